package natsjs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
	"github.com/yungbote/ontomap-backend/internal/projection"
)

type Config struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Stream string `mapstructure:"stream" yaml:"stream"`
	// AckWait is how long a delivered message may stay unacked before redelivery.
	AckWait time.Duration `mapstructure:"ack_wait" yaml:"ack_wait"`
	MaxAge  time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// Broker implements fanout.Broker over one JetStream stream. Topics map to subjects and each
// (group, topic) pair gets a durable pull consumer.
type Broker struct {
	log  *logger.Logger
	nc   *nats.Conn
	js   jetstream.JetStream
	cfg  Config
	owns bool

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
}

var _ fanout.Broker = (*Broker)(nil)

// Dial connects to NATS and ensures the stream exists.
func Dial(ctx context.Context, log *logger.Logger, cfg Config) (*Broker, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("missing nats url")
	}
	nc, err := nats.Connect(url,
		nats.Name("ontomap"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	b, err := New(ctx, log, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.owns = true
	return b, nil
}

func New(ctx context.Context, log *logger.Logger, nc *nats.Conn, cfg Config) (*Broker, error) {
	if cfg.Stream == "" {
		cfg.Stream = "ANNOTATIONS"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	sc := jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{projection.TopicPrefix + ">"},
		Storage:  jetstream.FileStorage,
		MaxAge:   cfg.MaxAge,
	}
	if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}
	return &Broker{
		log:       log.With("service", "JetStreamBroker"),
		nc:        nc,
		js:        js,
		cfg:       cfg,
		consumers: make(map[string]jetstream.Consumer),
	}, nil
}

func durableName(group, topic string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(group + "_" + topic)
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, err := b.js.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic, group string) error {
	_, err := b.consumer(ctx, topic, group)
	return err
}

func (b *Broker) consumer(ctx context.Context, topic, group string) (jetstream.Consumer, error) {
	name := durableName(group, topic)
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.consumers[name]; ok {
		return c, nil
	}
	c, err := b.js.CreateOrUpdateConsumer(ctx, b.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: topic,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", name, err)
	}
	b.consumers[name] = c
	return c, nil
}

// Fetch waits up to wait for messages; it returns early with ctx.Err() once ctx ends.
func (b *Broker) Fetch(ctx context.Context, topic, group, consumer string, max int, wait time.Duration) ([]fanout.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}
	c, err := b.consumer(ctx, topic, group)
	if err != nil {
		return nil, err
	}
	var batch jetstream.MessageBatch
	if wait > 0 {
		fctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		batch, err = c.Fetch(max, jetstream.FetchContext(fctx))
	} else {
		batch, err = c.FetchNoWait(max)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("jetstream fetch %s: %w", topic, err)
	}
	var out []fanout.Message
	for msg := range batch.Messages() {
		out = append(out, b.message(topic, msg))
	}
	if len(out) == 0 && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := batch.Error(); err != nil && !isFetchEnd(err) {
		if len(out) > 0 {
			b.log.Debug("jetstream fetch ended early", "topic", topic, "error", err)
			return out, nil
		}
		return nil, fmt.Errorf("jetstream fetch %s: %w", topic, err)
	}
	return out, nil
}

func isFetchEnd(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func (b *Broker) message(topic string, msg jetstream.Msg) fanout.Message {
	delivery := 1
	id := ""
	if md, err := msg.Metadata(); err == nil {
		delivery = int(md.NumDelivered)
		id = strconv.FormatUint(md.Sequence.Stream, 10)
	}
	ack := func(context.Context) error { return msg.Ack() }
	touch := func(context.Context) error { return msg.InProgress() }
	return fanout.NewMessage(topic, id, msg.Data(), delivery, ack, touch)
}

func (b *Broker) Close() error {
	if b.owns && b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
