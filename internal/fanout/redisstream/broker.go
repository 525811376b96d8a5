package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

const payloadField = "payload"

type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	// StreamPrefix is prepended to every topic to form the stream key.
	StreamPrefix string `mapstructure:"stream_prefix" yaml:"stream_prefix"`
	// MaxLen trims streams approximately; 0 keeps everything.
	MaxLen int64 `mapstructure:"max_len" yaml:"max_len"`
	// ClaimIdle is how long a message may stay unacked before another consumer claims it.
	ClaimIdle time.Duration `mapstructure:"claim_idle" yaml:"claim_idle"`
}

// Broker implements fanout.Broker over redis streams and consumer groups.
type Broker struct {
	log  *logger.Logger
	rdb  goredis.UniversalClient
	cfg  Config
	owns bool
}

var _ fanout.Broker = (*Broker)(nil)

// Dial connects and pings redis.
func Dial(log *logger.Logger, cfg Config) (*Broker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b := New(log, rdb, cfg)
	b.owns = true
	return b, nil
}

// New wraps an existing client. Close does not close it.
func New(log *logger.Logger, rdb goredis.UniversalClient, cfg Config) *Broker {
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 30 * time.Second
	}
	return &Broker{log: log.With("service", "RedisStreamBroker"), rdb: rdb, cfg: cfg}
}

func (b *Broker) Client() goredis.UniversalClient { return b.rdb }

func (b *Broker) stream(topic string) string { return b.cfg.StreamPrefix + topic }

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	args := &goredis.XAddArgs{
		Stream: b.stream(topic),
		Values: map[string]any{payloadField: payload},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.stream(topic), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", b.stream(topic), group, err)
	}
	return nil
}

// Fetch first claims messages other consumers left idle past ClaimIdle, then reads new ones.
func (b *Broker) Fetch(ctx context.Context, topic, group, consumer string, max int, wait time.Duration) ([]fanout.Message, error) {
	if max <= 0 {
		max = 1
	}
	stream := b.stream(topic)

	claimed, _, err := b.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  b.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("xautoclaim %s: %w", stream, err)
	}
	if len(claimed) > 0 {
		out := make([]fanout.Message, 0, len(claimed))
		for _, xm := range claimed {
			out = append(out, b.message(stream, topic, group, consumer, xm, b.deliveryCount(ctx, stream, group, xm.ID)))
		}
		return out, nil
	}

	block := wait
	if block <= 0 {
		block = -1
	}
	res, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	var out []fanout.Message
	for _, s := range res {
		for _, xm := range s.Messages {
			out = append(out, b.message(stream, topic, group, consumer, xm, 1))
		}
	}
	return out, nil
}

func (b *Broker) deliveryCount(ctx context.Context, stream, group, id string) int {
	pend, err := b.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pend) == 0 {
		return 2
	}
	return int(pend[0].RetryCount)
}

func (b *Broker) message(stream, topic, group, consumer string, xm goredis.XMessage, delivery int) fanout.Message {
	var payload []byte
	switch v := xm.Values[payloadField].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	}
	id := xm.ID
	ack := func(ctx context.Context) error {
		return b.rdb.XAck(ctx, stream, group, id).Err()
	}
	touch := func(ctx context.Context) error {
		return b.rdb.XClaimJustID(ctx, &goredis.XClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  0,
			Messages: []string{id},
		}).Err()
	}
	return fanout.NewMessage(topic, id, payload, delivery, ack, touch)
}

func (b *Broker) Close() error {
	if b.owns {
		return b.rdb.Close()
	}
	return nil
}
