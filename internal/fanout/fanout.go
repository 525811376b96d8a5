package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/observability"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
	"github.com/yungbote/ontomap-backend/internal/projection"
)

type Config struct {
	Group       string        `mapstructure:"group" yaml:"group"`
	Consumer    string        `mapstructure:"consumer" yaml:"consumer"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	BatchSize   int           `mapstructure:"batch_size" yaml:"batch_size"`
	FetchWait   time.Duration `mapstructure:"fetch_wait" yaml:"fetch_wait"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBase   time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryMax    time.Duration `mapstructure:"retry_max" yaml:"retry_max"`
}

func DefaultConfig() Config {
	return Config{
		Group:       "ontomap",
		Workers:     1,
		BatchSize:   16,
		FetchWait:   2 * time.Second,
		MaxAttempts: 5,
		RetryBase:   200 * time.Millisecond,
		RetryMax:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Group) == "" {
		c.Group = d.Group
	}
	if strings.TrimSpace(c.Consumer) == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "local"
		}
		c.Consumer = host
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FetchWait <= 0 {
		c.FetchWait = d.FetchWait
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
	return c
}

// Fanout delivers every annotation event to every registered projection, at least once.
type Fanout struct {
	log      *logger.Logger
	broker   Broker
	registry *projection.Registry
	cfg      Config
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

func New(baseLog *logger.Logger, broker Broker, registry *projection.Registry, cfg Config, metrics *observability.Metrics) *Fanout {
	return &Fanout{
		log:      baseLog.With("component", "Fanout"),
		broker:   broker,
		registry: registry,
		cfg:      cfg.withDefaults(),
		metrics:  metrics,
		tracer:   otel.Tracer(observability.TracerName),
	}
}

func (f *Fanout) Config() Config { return f.cfg }

func (f *Fanout) Topics() []string {
	names := f.registry.Names()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, projection.Topic(n))
	}
	return out
}

// Publish enqueues e once on every projection topic.
func (f *Fanout) Publish(ctx context.Context, e annotation.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	raw, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("marshal annotation event: %w", err)
	}
	return f.PublishRaw(ctx, raw)
}

// PublishRaw enqueues an already-encoded event on every projection topic. A failure on any
// topic fails the call; topics that did accept the payload will see it again on retry.
func (f *Fanout) PublishRaw(ctx context.Context, payload []byte) error {
	topics := f.Topics()
	if len(topics) == 0 {
		return fmt.Errorf("fanout: no projections registered")
	}
	var errs []error
	for _, topic := range topics {
		if err := f.broker.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", topic, err))
			continue
		}
		f.metrics.IncFanoutPublished(topic)
	}
	return errors.Join(errs...)
}

type TopicStatus struct {
	Projection      string `json:"projection"`
	Topic           string `json:"topic"`
	DeadLetterTopic string `json:"dead_letter_topic"`
	Group           string `json:"group"`
	Workers         int    `json:"workers"`
	MaxAttempts     int    `json:"max_attempts"`
}

func (f *Fanout) Status() []TopicStatus {
	names := f.registry.Names()
	out := make([]TopicStatus, 0, len(names))
	for _, n := range names {
		topic := projection.Topic(n)
		out = append(out, TopicStatus{
			Projection:      n,
			Topic:           topic,
			DeadLetterTopic: DLQTopic(topic),
			Group:           f.cfg.Group,
			Workers:         f.cfg.Workers,
			MaxAttempts:     f.cfg.MaxAttempts,
		})
	}
	return out
}

// Run starts the consumer loops for every registered projection and blocks until ctx ends.
// Each projection gets its own workers; no state is shared between projections.
func (f *Fanout) Run(ctx context.Context) error {
	projs := f.registry.All()
	if len(projs) == 0 {
		return fmt.Errorf("fanout: no projections registered")
	}
	for _, p := range projs {
		if err := f.broker.Subscribe(ctx, projection.Topic(p.Name()), f.cfg.Group); err != nil {
			return fmt.Errorf("subscribe %s: %w", p.Name(), err)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range projs {
		for i := 0; i < f.cfg.Workers; i++ {
			consumer := fmt.Sprintf("%s-%s-%d", f.cfg.Consumer, p.Name(), i)
			g.Go(func() error {
				return f.consume(gctx, p, consumer)
			})
		}
	}
	f.log.Info("fanout consumers started", "projections", len(projs), "workers", f.cfg.Workers, "group", f.cfg.Group)
	return g.Wait()
}

func (f *Fanout) consume(ctx context.Context, p projection.Projection, consumer string) error {
	topic := projection.Topic(p.Name())
	log := f.log.With("projection", p.Name(), "consumer", consumer)
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := f.broker.Fetch(ctx, topic, f.cfg.Group, consumer, f.cfg.BatchSize, f.cfg.FetchWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			log.Warn("fetch failed", "error", err, "failures", failures)
			if !sleep(ctx, f.backoff(failures)) {
				return nil
			}
			continue
		}
		failures = 0
		for _, m := range msgs {
			if ctx.Err() != nil {
				return nil
			}
			f.handle(ctx, log, p, m)
		}
	}
}

// handle applies one message. It acks on success or after dead-lettering, and leaves the
// message pending when ctx ends mid-way.
func (f *Fanout) handle(ctx context.Context, log *logger.Logger, p projection.Projection, m Message) {
	e, err := annotation.DecodeEvent(m.Payload)
	if err != nil {
		f.deadLetter(ctx, log, p, m, m.Delivery, "undecodable", err)
		return
	}
	log = log.With("annotation_id", e.ID, "message_id", m.ID)

	attempt := m.Delivery
	for {
		err := f.apply(ctx, p, e)
		if err == nil {
			if ackErr := m.Ack(ctx); ackErr != nil {
				log.Warn("ack failed; message will be redelivered", "error", ackErr)
				return
			}
			f.metrics.IncFanoutAcked(p.Name())
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= f.cfg.MaxAttempts {
			f.deadLetter(ctx, log, p, m, attempt, "max_attempts", err)
			return
		}
		f.metrics.IncFanoutRetried(p.Name())
		wait := f.backoff(attempt)
		log.Warn("apply failed; retrying", "error", err, "attempt", attempt, "max_attempts", f.cfg.MaxAttempts, "backoff", wait)
		if !sleep(ctx, wait) {
			return
		}
		if touchErr := m.Touch(ctx); touchErr != nil {
			log.Debug("touch failed", "error", touchErr)
		}
		attempt++
	}
}

func (f *Fanout) apply(ctx context.Context, p projection.Projection, e annotation.Event) (err error) {
	start := time.Now()
	ctx, span := f.tracer.Start(ctx, "projection.Apply", trace.WithAttributes(
		attribute.String("projection", p.Name()),
		attribute.String("annotation_id", e.ID.String()),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in projection %s: %v\n%s", p.Name(), r, string(debug.Stack()))
		}
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		f.metrics.ObserveProjectionApply(p.Name(), status, time.Since(start))
	}()
	if err := p.Apply(ctx, e); err != nil {
		return apperrors.Delivery(p.Name(), err)
	}
	return nil
}

// DeadLetter is the envelope written to a dead-letter topic.
type DeadLetter struct {
	Projection string    `json:"projection"`
	Topic      string    `json:"topic"`
	MessageID  string    `json:"message_id"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error"`
	Payload    []byte    `json:"payload"`
	FailedAt   time.Time `json:"failed_at"`
}

func DecodeDeadLetter(raw []byte) (DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(raw, &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	return dl, nil
}

// deadLetter diverts m to the dead-letter topic and acks it. If the diversion itself fails the
// message is left pending so it is never dropped.
func (f *Fanout) deadLetter(ctx context.Context, log *logger.Logger, p projection.Projection, m Message, attempts int, reason string, cause error) {
	dlq := DLQTopic(m.Topic)
	raw, err := json.Marshal(DeadLetter{
		Projection: p.Name(),
		Topic:      m.Topic,
		MessageID:  m.ID,
		Attempts:   attempts,
		Reason:     reason,
		Error:      cause.Error(),
		Payload:    m.Payload,
		FailedAt:   time.Now().UTC(),
	})
	if err != nil {
		log.Error("encode dead letter failed; leaving message pending", "error", err)
		return
	}
	if err := f.broker.Publish(ctx, dlq, raw); err != nil {
		log.Error("dead-letter publish failed; leaving message pending", "error", err, "dlq", dlq)
		return
	}
	if err := m.Ack(ctx); err != nil {
		log.Warn("ack after dead-letter failed", "error", err)
	}
	f.metrics.IncFanoutDeadLetter(p.Name(), reason)
	log.Error("event dead-lettered",
		"alert", "dead_letter",
		"dlq", dlq,
		"reason", reason,
		"attempts", attempts,
		"message_id", m.ID,
		"error", cause,
	)
}

func (f *Fanout) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := f.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= f.cfg.RetryMax {
			return f.cfg.RetryMax
		}
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
