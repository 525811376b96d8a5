package prediction

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/ontomap-backend/internal/domain/summary"
	"github.com/yungbote/ontomap-backend/internal/observability"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
	"github.com/yungbote/ontomap-backend/internal/prediction/similarity"
)

type Query struct {
	// PropertyType nil means value-only retrieval.
	PropertyType  *string
	PropertyValue string
	SourceNames   []string
	// Ontologies keeps candidates with at least one tag under one of these URI prefixes.
	Ontologies []string
}

// Retriever is the Summary projection's read path.
type Retriever interface {
	Retrieve(ctx context.Context, propertyType *string, propertyValue string, sourceNames []string) ([]*summary.AnnotationSummary, error)
}

type Candidate struct {
	Summary    *summary.AnnotationSummary
	Similarity float64
	Score      float64
}

type Prediction struct {
	SummaryID     uuid.UUID   `json:"summary_id"`
	PropertyType  string      `json:"property_type,omitempty"`
	PropertyValue string      `json:"property_value"`
	MatchedValue  string      `json:"matched_value"`
	SemanticTags  []string    `json:"semantic_tags"`
	Quality       float64     `json:"quality"`
	Similarity    float64     `json:"similarity"`
	Score         float64     `json:"score"`
	Confidence    Confidence  `json:"confidence"`
	AnnotationIDs []uuid.UUID `json:"annotation_ids"`
	SourceNames   []string    `json:"source_names"`
	VoteCount     int         `json:"vote_count"`
	SourceCount   int         `json:"source_count"`
}

type Engine struct {
	log       *logger.Logger
	retriever Retriever
	memo      *similarity.Memo
	cfg       Config
	metrics   *observability.Metrics
	tracer    trace.Tracer
	workers   int
}

type Option func(*Engine)

func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithWorkers bounds concurrent candidate scoring.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func NewEngine(baseLog *logger.Logger, retriever Retriever, memo *similarity.Memo, cfg Config, opts ...Option) (*Engine, error) {
	if retriever == nil {
		return nil, apperrors.Validation("prediction: retriever is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if memo == nil {
		memo = similarity.NewMemo(similarity.MemoOptions{})
	}
	e := &Engine{
		log:       baseLog.With("component", "PredictionEngine"),
		retriever: retriever,
		memo:      memo,
		cfg:       cfg,
		tracer:    otel.Tracer(observability.TracerName),
		workers:   8,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Predict retrieves, scores, filters, classifies and ranks candidates for q. It has no side
// effects besides warming the similarity memo.
func (e *Engine) Predict(ctx context.Context, q Query) (out []Prediction, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "prediction.Predict")
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = errorOutcome(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("predictions", len(out)))
		span.End()
		e.metrics.ObservePrediction(outcome, len(out), time.Since(start))
	}()

	value := strings.TrimSpace(q.PropertyValue)
	if value == "" {
		return nil, apperrors.Validation("prediction: property value is required")
	}
	span.SetAttributes(attribute.String("property_value", value), attribute.Bool("typed", q.PropertyType != nil))

	found, err := e.retrieve(ctx, q.PropertyType, value, q.SourceNames)
	if err != nil {
		return nil, err
	}
	found = filterOntologies(found, q.Ontologies)
	if len(found) == 0 {
		return []Prediction{}, nil
	}

	cands, err := e.score(ctx, value, found)
	if err != nil {
		return nil, err
	}
	cands = ApplyCutoff(cands, e.cfg.CutoffPercentage)
	sortCandidates(cands)

	out = make([]Prediction, 0, len(cands))
	for _, c := range cands {
		out = append(out, toPrediction(value, c, Classify(c.Score, e.cfg.CutoffScore)))
	}
	return out, nil
}

func (e *Engine) retrieve(ctx context.Context, propertyType *string, value string, sources []string) ([]*summary.AnnotationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if propertyType != nil && strings.TrimSpace(*propertyType) != "" {
		found, err := e.retriever.Retrieve(ctx, propertyType, value, sources)
		if err != nil {
			return nil, apperrors.Retrieval("prediction.retrieve_typed", err)
		}
		if len(found) > 0 {
			return found, nil
		}
		e.log.Debug("typed retrieval empty, falling back to value only", "property_type", *propertyType)
	}
	found, err := e.retriever.Retrieve(ctx, nil, value, sources)
	if err != nil {
		return nil, apperrors.Retrieval("prediction.retrieve", err)
	}
	return found, nil
}

// score blends stored quality and lexical similarity as quality*similarity. Zero-similarity
// candidates carry no lexical evidence and are dropped.
func (e *Engine) score(ctx context.Context, value string, found []*summary.AnnotationSummary) ([]Candidate, error) {
	before := e.memo.Computations()
	scored := make([]Candidate, len(found))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, s := range found {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sim := e.memo.Score(value, s.PropertyValue)
			scored[i] = Candidate{Summary: s, Similarity: sim, Score: s.Quality * sim}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.metrics.AddMemoComputations(e.memo.Computations() - before)

	out := scored[:0]
	for _, c := range scored {
		if c.Score > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Summary.VoteCount != b.Summary.VoteCount {
			return a.Summary.VoteCount > b.Summary.VoteCount
		}
		return a.Summary.ID.String() < b.Summary.ID.String()
	})
}

func filterOntologies(found []*summary.AnnotationSummary, prefixes []string) []*summary.AnnotationSummary {
	clean := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		return found
	}
	out := make([]*summary.AnnotationSummary, 0, len(found))
	for _, s := range found {
		if hasTagUnder(s.SemanticTags, clean) {
			out = append(out, s)
		}
	}
	return out
}

func hasTagUnder(tags, prefixes []string) bool {
	for _, t := range tags {
		for _, p := range prefixes {
			if strings.HasPrefix(t, p) {
				return true
			}
		}
	}
	return false
}

func toPrediction(query string, c Candidate, conf Confidence) Prediction {
	s := c.Summary
	return Prediction{
		SummaryID:     s.ID,
		PropertyType:  s.PropertyType,
		PropertyValue: query,
		MatchedValue:  s.PropertyValue,
		SemanticTags:  append([]string{}, s.SemanticTags...),
		Quality:       s.Quality,
		Similarity:    c.Similarity,
		Score:         c.Score,
		Confidence:    conf,
		AnnotationIDs: append([]uuid.UUID{}, s.AnnotationIDs...),
		SourceNames:   append([]string{}, s.SourceNames...),
		VoteCount:     s.VoteCount,
		SourceCount:   s.SourceCount,
	}
}

func errorOutcome(err error) string {
	switch {
	case apperrors.IsValidation(err):
		return "invalid"
	case apperrors.IsRetrieval(err):
		return "retrieval_failed"
	case apperrors.IsCanceled(err):
		return "canceled"
	default:
		return "error"
	}
}
