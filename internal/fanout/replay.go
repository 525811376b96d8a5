package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/ontomap-backend/internal/data/repos/annotations"
	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
	"github.com/yungbote/ontomap-backend/internal/projection"
)

type ReplayStats struct {
	Projections []string      `json:"projections"`
	Events      int           `json:"events"`
	Applied     int           `json:"applied"`
	Skipped     int           `json:"skipped"`
	Duration    time.Duration `json:"duration"`
}

// Replayer rebuilds projections from the outbox, which keeps the full event history.
// It calls projections directly and bypasses the broker.
type Replayer struct {
	log      *logger.Logger
	outbox   annotations.OutboxRepo
	registry *projection.Registry
	pageSize int
}

func NewReplayer(baseLog *logger.Logger, outbox annotations.OutboxRepo, registry *projection.Registry, pageSize int) *Replayer {
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 500
	}
	return &Replayer{
		log:      baseLog.With("component", "Replayer"),
		outbox:   outbox,
		registry: registry,
		pageSize: pageSize,
	}
}

// Replay applies every recorded event to the named projections (all when names is empty).
// With reset, projections implementing projection.Resetter are cleared first.
func (r *Replayer) Replay(ctx context.Context, names []string, reset bool) (ReplayStats, error) {
	start := time.Now()
	projs, err := r.registry.Select(names)
	if err != nil {
		return ReplayStats{}, err
	}
	stats := ReplayStats{}
	for _, p := range projs {
		stats.Projections = append(stats.Projections, p.Name())
	}
	if reset {
		for _, p := range projs {
			rs, ok := p.(projection.Resetter)
			if !ok {
				continue
			}
			if err := rs.Reset(ctx); err != nil {
				return stats, fmt.Errorf("reset %s: %w", p.Name(), err)
			}
			r.log.Info("projection reset", "projection", p.Name())
		}
	}

	var cursor int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rows, err := r.outbox.ListAfter(dbctx.New(ctx), cursor, r.pageSize)
		if err != nil {
			return stats, err
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			cursor = row.Seq
			stats.Events++
			e, err := annotation.DecodeEvent(row.Payload)
			if err != nil {
				stats.Skipped++
				r.log.Warn("skipping undecodable outbox row", "seq", row.Seq, "error", err)
				continue
			}
			for _, p := range projs {
				if err := p.Apply(ctx, e); err != nil {
					return stats, fmt.Errorf("replay %s at seq %d: %w", p.Name(), row.Seq, err)
				}
				stats.Applied++
			}
		}
		if len(rows) < r.pageSize {
			break
		}
	}
	stats.Duration = time.Since(start)
	r.log.Info("replay complete", "projections", stats.Projections, "events", stats.Events, "applied", stats.Applied, "skipped", stats.Skipped)
	return stats, nil
}
