package prediction

import (
	"context"

	"github.com/yungbote/ontomap-backend/internal/data/repos/summaries"
	"github.com/yungbote/ontomap-backend/internal/domain/summary"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
)

type SummaryFinder interface {
	Find(dbc dbctx.Context, q summaries.Query) ([]*summary.AnnotationSummary, error)
}

type summaryRetriever struct {
	repo  SummaryFinder
	limit int
}

// NewSummaryRetriever reads candidates from the Summary projection's store.
func NewSummaryRetriever(repo SummaryFinder, limit int) Retriever {
	return &summaryRetriever{repo: repo, limit: limit}
}

func (r *summaryRetriever) Retrieve(ctx context.Context, propertyType *string, propertyValue string, sourceNames []string) ([]*summary.AnnotationSummary, error) {
	return r.repo.Find(dbctx.New(ctx), summaries.Query{
		PropertyType:  propertyType,
		PropertyValue: propertyValue,
		SourceNames:   sourceNames,
		Limit:         r.limit,
	})
}
