package annotations

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

// AnnotationRepo is the canonical record store. There is no update or delete path.
type AnnotationRepo interface {
	Create(dbc dbctx.Context, rows []*annotation.Annotation) ([]*annotation.Annotation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*annotation.Annotation, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*annotation.Annotation, error)
	ListByPropertyValue(dbc dbctx.Context, value string, limit int) ([]*annotation.Annotation, error)
	Count(dbc dbctx.Context) (int64, error)
}

type annotationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnnotationRepo(db *gorm.DB, baseLog *logger.Logger) AnnotationRepo {
	return &annotationRepo{db: db, log: baseLog.With("repo", "AnnotationRepo")}
}

func (r *annotationRepo) Create(dbc dbctx.Context, rows []*annotation.Annotation) ([]*annotation.Annotation, error) {
	if len(rows) == 0 {
		return []*annotation.Annotation{}, nil
	}
	for _, row := range rows {
		if row == nil || strings.TrimSpace(row.Property.Value) == "" {
			return nil, apperrors.Validation("annotation: property value is required")
		}
		if row.ID != uuid.Nil {
			return nil, apperrors.Validation("annotation: id is assigned by the record store")
		}
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, apperrors.MapDBError("annotation.create", err)
	}
	return rows, nil
}

func (r *annotationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*annotation.Annotation, error) {
	if id == uuid.Nil {
		return nil, apperrors.Validation("annotation: id is required")
	}
	var out annotation.Annotation
	if err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error; err != nil {
		return nil, apperrors.MapDBError("annotation.get", err)
	}
	return &out, nil
}

func (r *annotationRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*annotation.Annotation, error) {
	var out []*annotation.Annotation
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("id IN ?", ids).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, apperrors.MapDBError("annotation.get_many", err)
	}
	return out, nil
}

func (r *annotationRepo) ListByPropertyValue(dbc dbctx.Context, value string, limit int) ([]*annotation.Annotation, error) {
	var out []*annotation.Annotation
	value = strings.TrimSpace(value)
	if value == "" {
		return out, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if err := dbc.DB(r.db).
		Where("LOWER(property_value) = ?", strings.ToLower(value)).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, apperrors.MapDBError("annotation.list_by_value", err)
	}
	return out, nil
}

func (r *annotationRepo) Count(dbc dbctx.Context) (int64, error) {
	var n int64
	if err := dbc.DB(r.db).Model(&annotation.Annotation{}).Count(&n).Error; err != nil {
		return 0, apperrors.MapDBError("annotation.count", err)
	}
	return n, nil
}
