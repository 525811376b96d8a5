package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/domain/summary"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Record store
		// =========================
		&annotation.Study{},
		&annotation.BiologicalEntity{},
		&annotation.Annotation{},
		&annotation.OutboxEvent{},

		// =========================
		// Summary projection
		// =========================
		&summary.AnnotationSummary{},
		&summary.Member{},
		&summary.Source{},
	)
}
