package annotations

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

type OutboxRepo interface {
	Create(dbc dbctx.Context, rows []*annotation.OutboxEvent) error
	// Claim leases up to limit relayable rows (unpublished, not parked, lease lapsed) in seq order
	// until now+lease. The claim commits on its own so no lock is held while publishing; on
	// Postgres concurrent claimers skip each other's rows with SKIP LOCKED.
	Claim(dbc dbctx.Context, limit int, now time.Time, lease time.Duration) ([]*annotation.OutboxEvent, error)
	MarkPublished(dbc dbctx.Context, seqs []int64, at time.Time) error
	// RecordFailure counts a failed publish and releases the lease. Once attempts reaches
	// maxAttempts (> 0) the row is parked and parked reports true.
	RecordFailure(dbc dbctx.Context, seq int64, cause error, maxAttempts int, at time.Time) (parked bool, err error)
	ListAfter(dbc dbctx.Context, afterSeq int64, limit int) ([]*annotation.OutboxEvent, error)
	// CountUnpublished counts rows still waiting for the relay; parked rows are excluded.
	CountUnpublished(dbc dbctx.Context) (int64, error)
	CountParked(dbc dbctx.Context) (int64, error)
}

type outboxRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutboxRepo(db *gorm.DB, baseLog *logger.Logger) OutboxRepo {
	return &outboxRepo{db: db, log: baseLog.With("repo", "OutboxRepo")}
}

func (r *outboxRepo) Create(dbc dbctx.Context, rows []*annotation.OutboxEvent) error {
	if len(rows) == 0 {
		return nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return apperrors.MapDBError("outbox.create", err)
	}
	return nil
}

func (r *outboxRepo) Claim(dbc dbctx.Context, limit int, now time.Time, lease time.Duration) ([]*annotation.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	now = now.UTC()
	var out []*annotation.OutboxEvent
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		q := tx
		if q.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.
			Where("published_at IS NULL AND parked_at IS NULL").
			Where("claimed_until IS NULL OR claimed_until <= ?", now).
			Order("seq ASC").
			Limit(limit).
			Find(&out).Error; err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		seqs := make([]int64, 0, len(out))
		for _, row := range out {
			seqs = append(seqs, row.Seq)
		}
		until := now.Add(lease)
		return tx.Model(&annotation.OutboxEvent{}).
			Where("seq IN ?", seqs).
			Update("claimed_until", until).Error
	})
	if err != nil {
		return nil, apperrors.MapDBError("outbox.claim", err)
	}
	return out, nil
}

func (r *outboxRepo) MarkPublished(dbc dbctx.Context, seqs []int64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	if err := dbc.DB(r.db).
		Model(&annotation.OutboxEvent{}).
		Where("seq IN ?", seqs).
		Updates(map[string]interface{}{
			"published_at":  at.UTC(),
			"claimed_until": nil,
			"last_error":    "",
		}).Error; err != nil {
		return apperrors.MapDBError("outbox.mark_published", err)
	}
	return nil
}

func (r *outboxRepo) RecordFailure(dbc dbctx.Context, seq int64, cause error, maxAttempts int, at time.Time) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	parked := false
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Model(&annotation.OutboxEvent{}).
			Where("seq = ?", seq).
			Updates(map[string]interface{}{
				"attempts":      gorm.Expr("attempts + 1"),
				"last_error":    msg,
				"claimed_until": nil,
			}).Error; err != nil {
			return err
		}
		if maxAttempts <= 0 {
			return nil
		}
		res := tx.
			Model(&annotation.OutboxEvent{}).
			Where("seq = ? AND attempts >= ? AND parked_at IS NULL", seq, maxAttempts).
			Update("parked_at", at.UTC())
		if res.Error != nil {
			return res.Error
		}
		parked = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, apperrors.MapDBError("outbox.record_failure", err)
	}
	return parked, nil
}

func (r *outboxRepo) ListAfter(dbc dbctx.Context, afterSeq int64, limit int) ([]*annotation.OutboxEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var out []*annotation.OutboxEvent
	if err := dbc.DB(r.db).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, apperrors.MapDBError("outbox.list_after", err)
	}
	return out, nil
}

func (r *outboxRepo) CountUnpublished(dbc dbctx.Context) (int64, error) {
	var n int64
	if err := dbc.DB(r.db).Model(&annotation.OutboxEvent{}).
		Where("published_at IS NULL AND parked_at IS NULL").
		Count(&n).Error; err != nil {
		return 0, apperrors.MapDBError("outbox.count_unpublished", err)
	}
	return n, nil
}

func (r *outboxRepo) CountParked(dbc dbctx.Context) (int64, error) {
	var n int64
	if err := dbc.DB(r.db).Model(&annotation.OutboxEvent{}).Where("parked_at IS NOT NULL").Count(&n).Error; err != nil {
		return 0, apperrors.MapDBError("outbox.count_parked", err)
	}
	return n, nil
}
