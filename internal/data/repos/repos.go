package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/ontomap-backend/internal/data/repos/annotations"
	"github.com/yungbote/ontomap-backend/internal/data/repos/summaries"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

type AnnotationRepo = annotations.AnnotationRepo
type StudyRepo = annotations.StudyRepo
type BiologicalEntityRepo = annotations.BiologicalEntityRepo
type OutboxRepo = annotations.OutboxRepo

type SummaryRepo = summaries.SummaryRepo
type SummaryQuery = summaries.Query

func NewAnnotationRepo(db *gorm.DB, baseLog *logger.Logger) AnnotationRepo {
	return annotations.NewAnnotationRepo(db, baseLog)
}
func NewStudyRepo(db *gorm.DB, baseLog *logger.Logger) StudyRepo {
	return annotations.NewStudyRepo(db, baseLog)
}
func NewBiologicalEntityRepo(db *gorm.DB, baseLog *logger.Logger) BiologicalEntityRepo {
	return annotations.NewBiologicalEntityRepo(db, baseLog)
}
func NewOutboxRepo(db *gorm.DB, baseLog *logger.Logger) OutboxRepo {
	return annotations.NewOutboxRepo(db, baseLog)
}

func NewSummaryRepo(db *gorm.DB, baseLog *logger.Logger) SummaryRepo {
	return summaries.NewSummaryRepo(db, baseLog)
}

// Set bundles every repo the services and projections need.
type Set struct {
	Annotations AnnotationRepo
	Studies     StudyRepo
	Entities    BiologicalEntityRepo
	Outbox      OutboxRepo
	Summaries   SummaryRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		Annotations: NewAnnotationRepo(db, baseLog),
		Studies:     NewStudyRepo(db, baseLog),
		Entities:    NewBiologicalEntityRepo(db, baseLog),
		Outbox:      NewOutboxRepo(db, baseLog),
		Summaries:   NewSummaryRepo(db, baseLog),
	}
}
