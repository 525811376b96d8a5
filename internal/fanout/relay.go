package fanout

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/ontomap-backend/internal/data/repos/annotations"
	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/observability"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

// outboxDeadLetter labels parked outbox rows in the dead-letter metric.
const outboxDeadLetter = "outbox"

// Publisher is the part of Fanout the relay needs.
type Publisher interface {
	PublishRaw(ctx context.Context, payload []byte) error
}

type RelayConfig struct {
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	// RatePerSecond caps broker publishes; 0 disables the limit.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	// MaxAttempts parks a row after that many failed publishes; 0 retries forever.
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
	// ClaimLease is how long a claimed batch is hidden from other relays. Rate limiting extends it
	// by the time the batch needs at the configured rate.
	ClaimLease time.Duration `mapstructure:"claim_lease" yaml:"claim_lease"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:      100,
		Interval:       time.Second,
		RatePerSecond:  0,
		MaxAttempts:    10,
		PublishTimeout: 10 * time.Second,
		ClaimLease:     time.Minute,
	}
}

// Relay moves committed outbox rows onto the broker. A row is marked published only after the
// broker accepted it, so a crash between the two publishes it again.
type Relay struct {
	outbox  annotations.OutboxRepo
	pub     Publisher
	limiter *rate.Limiter
	cfg     RelayConfig
	lease   time.Duration
	metrics *observability.Metrics
	log     *logger.Logger
	wake    chan struct{}
	now     func() time.Time
}

func NewRelay(baseLog *logger.Logger, outbox annotations.OutboxRepo, pub Publisher, cfg RelayConfig, metrics *observability.Metrics) *Relay {
	d := DefaultRelayConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = d.PublishTimeout
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = d.ClaimLease
	}
	lease := cfg.ClaimLease
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
		lease += time.Duration(float64(cfg.BatchSize) / cfg.RatePerSecond * float64(time.Second))
	}
	return &Relay{
		outbox:  outbox,
		pub:     pub,
		limiter: limiter,
		cfg:     cfg,
		lease:   lease,
		metrics: metrics,
		log:     baseLog.With("component", "OutboxRelay"),
		wake:    make(chan struct{}, 1),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Notify starts the next pass without waiting for the ticker. It never blocks.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run relays until ctx ends. Full batches are drained back to back.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.log.Warn("outbox relay pass failed", "error", err)
				break
			}
			if n < r.cfg.BatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// RelayOnce claims one batch of relayable rows, publishes them in seq order and returns how many
// were published. A failed row is skipped so later rows still go out; it is retried on a later
// pass and parked once it runs out of attempts. No transaction is open while publishing.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	rows, err := r.outbox.Claim(dbctx.New(ctx), r.cfg.BatchSize, r.now(), r.lease)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	seqs := make([]int64, 0, len(rows))
	var firstErr error
	for _, row := range rows {
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}
		if err := r.publish(ctx, row.Payload); err != nil {
			if ctx.Err() != nil {
				break
			}
			if recErr := r.fail(ctx, row, err); recErr != nil && firstErr == nil {
				firstErr = recErr
			}
			continue
		}
		seqs = append(seqs, row.Seq)
	}

	// Marking runs on a fresh context so rows accepted just before shutdown are not re-sent.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PublishTimeout)
	defer cancel()
	if err := r.outbox.MarkPublished(dbctx.New(markCtx), seqs, r.now()); err != nil {
		return 0, err
	}
	if len(seqs) > 0 {
		r.metrics.AddRelayed(len(seqs))
		r.log.Debug("outbox rows relayed", "count", len(seqs))
	}
	return len(seqs), firstErr
}

func (r *Relay) publish(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	return r.pub.PublishRaw(ctx, payload)
}

func (r *Relay) fail(ctx context.Context, row *annotation.OutboxEvent, cause error) error {
	r.metrics.IncRelayFailed()
	parked, err := r.outbox.RecordFailure(dbctx.New(ctx), row.Seq, cause, r.cfg.MaxAttempts, r.now())
	if err != nil {
		r.log.Warn("outbox failure not recorded", "seq", row.Seq, "error", err)
		return err
	}
	if !parked {
		r.log.Warn("outbox publish failed", "seq", row.Seq, "annotation_id", row.AnnotationID, "attempt", row.Attempts+1, "error", cause)
		return nil
	}
	r.metrics.IncFanoutDeadLetter(outboxDeadLetter, "publish_failed")
	r.log.Error("outbox row parked",
		"alert", "dead_letter",
		"reason", "publish_failed",
		"seq", row.Seq,
		"annotation_id", row.AnnotationID,
		"attempts", row.Attempts+1,
		"error", cause,
	)
	return nil
}
