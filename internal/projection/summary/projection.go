package summary

import (
	"context"

	"github.com/yungbote/ontomap-backend/internal/data/repos/summaries"
	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

const Name = "summary"

// Projection merges each annotation into the AnnotationSummary for its (type, value, tags) key.
type Projection struct {
	log  *logger.Logger
	repo summaries.SummaryRepo
}

func New(baseLog *logger.Logger, repo summaries.SummaryRepo) *Projection {
	return &Projection{log: baseLog.With("projection", Name), repo: repo}
}

func (p *Projection) Name() string { return Name }

func (p *Projection) Apply(ctx context.Context, e annotation.Event) error {
	applied, err := p.repo.Merge(dbctx.New(ctx), e)
	if err != nil {
		return err
	}
	if !applied {
		p.log.Debug("annotation already merged", "annotation_id", e.ID)
	}
	return nil
}

func (p *Projection) Reset(ctx context.Context) error {
	return p.repo.Reset(dbctx.New(ctx))
}
