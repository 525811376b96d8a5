package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/ontomap-backend/internal/data/repos"
	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/observability"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/platform/ctxutil"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

const maxBatchSize = 1000

type EntityInput struct {
	Name           string `json:"name"`
	URI            string `json:"uri,omitempty"`
	StudyAccession string `json:"study_accession,omitempty"`
	StudyURI       string `json:"study_uri,omitempty"`
}

type SubmitInput struct {
	PropertyType  string                     `json:"property_type,omitempty"`
	PropertyValue string                     `json:"property_value"`
	SemanticTags  []string                   `json:"semantic_tags,omitempty"`
	Entities      []EntityInput              `json:"biological_entities,omitempty"`
	Provenance    annotation.ProvenanceInput `json:"provenance"`
}

// AnnotationService is the ingress to the record store. A submission is durable once Submit
// returns; propagation to projections happens afterwards and never fails the call.
type AnnotationService interface {
	Submit(ctx context.Context, in SubmitInput) (uuid.UUID, error)
	// SubmitBatch writes all inputs in one transaction with batch_load set.
	SubmitBatch(ctx context.Context, in []SubmitInput) ([]uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*annotation.Annotation, error)
	ListByPropertyValue(ctx context.Context, value string, limit int) ([]*annotation.Annotation, error)
}

type AnnotationServiceOption func(*annotationService)

// WithCommitHook runs fn after every committed submission, e.g. to wake the outbox relay.
func WithCommitHook(fn func()) AnnotationServiceOption {
	return func(s *annotationService) { s.onCommit = fn }
}

func WithClock(now func() time.Time) AnnotationServiceOption {
	return func(s *annotationService) { s.now = now }
}

type annotationService struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	tracer   trace.Tracer
	now      func() time.Time
	onCommit func()
}

func NewAnnotationService(db *gorm.DB, baseLog *logger.Logger, set repos.Set, opts ...AnnotationServiceOption) AnnotationService {
	s := &annotationService{
		db:     db,
		log:    baseLog.With("service", "AnnotationService"),
		repos:  set,
		tracer: otel.Tracer(observability.TracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *annotationService) Submit(ctx context.Context, in SubmitInput) (uuid.UUID, error) {
	ids, err := s.submit(ctx, []SubmitInput{in}, false)
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

func (s *annotationService) SubmitBatch(ctx context.Context, in []SubmitInput) ([]uuid.UUID, error) {
	if len(in) == 0 {
		return nil, apperrors.Validation("batch: at least one annotation is required")
	}
	if len(in) > maxBatchSize {
		return nil, apperrors.Validationf("batch: at most %d annotations per request", maxBatchSize)
	}
	return s.submit(ctx, in, true)
}

type pendingAnnotation struct {
	row      *annotation.Annotation
	entities []EntityInput
}

func (s *annotationService) submit(ctx context.Context, in []SubmitInput, batch bool) (ids []uuid.UUID, err error) {
	ctx, span := s.tracer.Start(ctx, "annotation.Submit", trace.WithAttributes(
		attribute.Int("annotations", len(in)),
		attribute.Bool("batch_load", batch),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// Validate everything before opening a transaction.
	now := s.now()
	pending := make([]pendingAnnotation, 0, len(in))
	for i, item := range in {
		prov, err := annotation.NewProvenance(item.Provenance, now)
		if err != nil {
			return nil, indexed(batch, i, err)
		}
		a, err := annotation.NewAnnotation(annotation.Input{
			PropertyType:  item.PropertyType,
			PropertyValue: item.PropertyValue,
			SemanticTags:  item.SemanticTags,
			Provenance:    prov,
			BatchLoad:     batch,
		})
		if err != nil {
			return nil, indexed(batch, i, err)
		}
		for _, ent := range item.Entities {
			if strings.TrimSpace(ent.Name) == "" {
				return nil, indexed(batch, i, apperrors.Validation("biological entity: name is required"))
			}
		}
		pending = append(pending, pendingAnnotation{row: a, entities: item.Entities})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		refsByRow := make([][]annotation.EntityRef, len(pending))
		rows := make([]*annotation.Annotation, 0, len(pending))
		for i, p := range pending {
			refs, err := s.resolveEntities(dbc, p.entities)
			if err != nil {
				return indexed(batch, i, err)
			}
			ids := make([]uuid.UUID, 0, len(refs))
			for _, r := range refs {
				ids = append(ids, r.ID)
			}
			p.row.BiologicalEntityIDs = ids
			refsByRow[i] = refs
			rows = append(rows, p.row)
		}
		if _, err := s.repos.Annotations.Create(dbc, rows); err != nil {
			return err
		}

		outbox := make([]*annotation.OutboxEvent, 0, len(rows))
		for i, a := range rows {
			raw, err := annotation.NewEvent(a, refsByRow[i]).Marshal()
			if err != nil {
				return fmt.Errorf("encode annotation event: %w", err)
			}
			outbox = append(outbox, &annotation.OutboxEvent{
				AnnotationID: a.ID,
				Payload:      datatypes.JSON(raw),
				CreatedAt:    a.CreatedAt,
			})
		}
		return s.repos.Outbox.Create(dbc, outbox)
	})
	if err != nil {
		return nil, err
	}

	ids = make([]uuid.UUID, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.row.ID)
	}
	span.SetAttributes(attribute.String("annotation_id", ids[0].String()))
	fields := []interface{}{"count", len(ids), "batch_load", batch}
	s.log.Info("annotations recorded", append(fields, ctxutil.LogFields(ctx)...)...)
	if s.onCommit != nil {
		s.onCommit()
	}
	return ids, nil
}

// resolveEntities reuses existing studies and entities; entity references are stored by ID.
func (s *annotationService) resolveEntities(dbc dbctx.Context, in []EntityInput) ([]annotation.EntityRef, error) {
	refs := make([]annotation.EntityRef, 0, len(in))
	seen := make(map[uuid.UUID]bool, len(in))
	for _, ent := range in {
		var studyID *uuid.UUID
		accession := strings.TrimSpace(ent.StudyAccession)
		if accession != "" {
			st, err := s.repos.Studies.GetOrCreate(dbc, accession, ent.StudyURI)
			if err != nil {
				return nil, err
			}
			studyID = &st.ID
			accession = st.Accession
		}
		be, err := s.repos.Entities.GetOrCreate(dbc, ent.Name, studyID, ent.URI)
		if err != nil {
			return nil, err
		}
		if seen[be.ID] {
			continue
		}
		seen[be.ID] = true
		refs = append(refs, annotation.EntityRef{
			ID:             be.ID,
			Name:           be.Name,
			URI:            be.URI,
			StudyID:        be.StudyID,
			StudyAccession: accession,
		})
	}
	return refs, nil
}

func (s *annotationService) Get(ctx context.Context, id uuid.UUID) (*annotation.Annotation, error) {
	return s.repos.Annotations.GetByID(dbctx.New(ctx), id)
}

func (s *annotationService) ListByPropertyValue(ctx context.Context, value string, limit int) ([]*annotation.Annotation, error) {
	if strings.TrimSpace(value) == "" {
		return nil, apperrors.Validation("propertyValue is required")
	}
	return s.repos.Annotations.ListByPropertyValue(dbctx.New(ctx), value, limit)
}

func indexed(batch bool, i int, err error) error {
	if !batch {
		return err
	}
	return fmt.Errorf("annotation[%d]: %w", i, err)
}
