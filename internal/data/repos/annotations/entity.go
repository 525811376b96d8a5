package annotations

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

type StudyRepo interface {
	GetOrCreate(dbc dbctx.Context, accession, uri string) (*annotation.Study, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*annotation.Study, error)
}

type studyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStudyRepo(db *gorm.DB, baseLog *logger.Logger) StudyRepo {
	return &studyRepo{db: db, log: baseLog.With("repo", "StudyRepo")}
}

func (r *studyRepo) GetOrCreate(dbc dbctx.Context, accession, uri string) (*annotation.Study, error) {
	accession = strings.TrimSpace(accession)
	if accession == "" {
		return nil, apperrors.Validation("study: accession is required")
	}
	t := dbc.DB(r.db)
	row := &annotation.Study{Accession: accession, URI: strings.TrimSpace(uri)}
	if err := t.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "accession"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return nil, apperrors.MapDBError("study.create", err)
	}
	var out annotation.Study
	if err := t.Where("accession = ?", accession).Take(&out).Error; err != nil {
		return nil, apperrors.MapDBError("study.get", err)
	}
	return &out, nil
}

func (r *studyRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*annotation.Study, error) {
	var out []*annotation.Study
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, apperrors.MapDBError("study.get_many", err)
	}
	return out, nil
}

type BiologicalEntityRepo interface {
	GetOrCreate(dbc dbctx.Context, name string, studyID *uuid.UUID, uri string) (*annotation.BiologicalEntity, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*annotation.BiologicalEntity, error)
}

type biologicalEntityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBiologicalEntityRepo(db *gorm.DB, baseLog *logger.Logger) BiologicalEntityRepo {
	return &biologicalEntityRepo{db: db, log: baseLog.With("repo", "BiologicalEntityRepo")}
}

func (r *biologicalEntityRepo) GetOrCreate(dbc dbctx.Context, name string, studyID *uuid.UUID, uri string) (*annotation.BiologicalEntity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("biological entity: name is required")
	}
	t := dbc.DB(r.db)
	row := &annotation.BiologicalEntity{Name: name, StudyID: studyID, URI: strings.TrimSpace(uri)}
	if err := t.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "study_key"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return nil, apperrors.MapDBError("biological_entity.create", err)
	}
	studyKey := ""
	if studyID != nil {
		studyKey = studyID.String()
	}
	var out annotation.BiologicalEntity
	if err := t.Where("name = ? AND study_key = ?", name, studyKey).Take(&out).Error; err != nil {
		return nil, apperrors.MapDBError("biological_entity.get", err)
	}
	return &out, nil
}

func (r *biologicalEntityRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*annotation.BiologicalEntity, error) {
	var out []*annotation.BiologicalEntity
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, apperrors.MapDBError("biological_entity.get_many", err)
	}
	return out, nil
}
