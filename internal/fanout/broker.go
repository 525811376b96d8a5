package fanout

import (
	"context"
	"time"
)

// DLQSuffix is appended to a topic to name its dead-letter topic.
const DLQSuffix = ".dlq"

func DLQTopic(topic string) string { return topic + DLQSuffix }

// Broker is a durable, pull-based log with consumer groups.
//
// A fetched message stays pending for its group until acked. A pending message that is never
// acked is delivered again later, to this or another consumer of the group.
type Broker interface {
	// Publish returns once the broker has durably accepted payload.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe creates the consumer group for topic if needed. Messages published before the
	// group existed are delivered too.
	Subscribe(ctx context.Context, topic, group string) error
	// Fetch blocks up to wait for at most max messages. An empty result is not an error.
	Fetch(ctx context.Context, topic, group, consumer string, max int, wait time.Duration) ([]Message, error)
	Close() error
}

// Message is one delivery of a published payload.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
	// Delivery is 1 on first delivery and grows with every redelivery.
	Delivery int

	ack   func(context.Context) error
	touch func(context.Context) error
}

// NewMessage is used by Broker implementations. touch may be nil; when set it tells the broker
// the message is still being worked on.
func NewMessage(topic, id string, payload []byte, delivery int, ack, touch func(context.Context) error) Message {
	if delivery < 1 {
		delivery = 1
	}
	return Message{ID: id, Topic: topic, Payload: payload, Delivery: delivery, ack: ack, touch: touch}
}

func (m Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

func (m Message) Touch(ctx context.Context) error {
	if m.touch == nil {
		return nil
	}
	return m.touch(ctx)
}
