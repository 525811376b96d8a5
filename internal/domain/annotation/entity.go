package annotation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Study groups biological entities. Unique by accession.
type Study struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Accession string    `gorm:"column:accession;not null;uniqueIndex" json:"accession"`
	URI       string    `gorm:"column:uri" json:"uri,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Study) TableName() string { return "study" }

func (s *Study) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// BiologicalEntity points at its study by ID rather than holding it.
type BiologicalEntity struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string     `gorm:"column:name;not null;uniqueIndex:idx_bioentity_name_study" json:"name"`
	StudyKey  string     `gorm:"column:study_key;not null;default:'';uniqueIndex:idx_bioentity_name_study" json:"-"`
	StudyID   *uuid.UUID `gorm:"type:uuid;column:study_id;index" json:"study_id,omitempty"`
	URI       string     `gorm:"column:uri" json:"uri,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;not null" json:"created_at"`
}

func (BiologicalEntity) TableName() string { return "biological_entity" }

func (e *BiologicalEntity) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.StudyKey = ""
	if e.StudyID != nil {
		e.StudyKey = e.StudyID.String()
	}
	return nil
}

// EntityRef is the denormalised entity carried on events, so projections never read back.
type EntityRef struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	URI            string     `json:"uri,omitempty"`
	StudyID        *uuid.UUID `json:"study_id,omitempty"`
	StudyAccession string     `json:"study_accession,omitempty"`
}
