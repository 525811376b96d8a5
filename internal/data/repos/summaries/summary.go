package summaries

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/domain/summary"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

const (
	defaultFindLimit = 200
	minTokenLength   = 3
)

type Query struct {
	// PropertyType nil means "any type".
	PropertyType  *string
	PropertyValue string
	SourceNames   []string
	Limit         int
}

type SummaryRepo interface {
	// Merge folds e into its summary. It reports false when e.ID was already merged.
	Merge(dbc dbctx.Context, e annotation.Event) (bool, error)
	Find(dbc dbctx.Context, q Query) ([]*summary.AnnotationSummary, error)
	GetByKey(dbc dbctx.Context, key string) (*summary.AnnotationSummary, error)
	Reset(dbc dbctx.Context) error
}

type summaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewSummaryRepo(db *gorm.DB, baseLog *logger.Logger) SummaryRepo {
	return &summaryRepo{
		db:  db,
		log: baseLog.With("repo", "SummaryRepo"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *summaryRepo) Merge(dbc dbctx.Context, e annotation.Event) (bool, error) {
	if e.ID == uuid.Nil || strings.TrimSpace(e.PropertyValue) == "" {
		return false, apperrors.Validation("summary: event id and property value are required")
	}
	applied := false
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		row := summary.FromEvent(e)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "summary_key"}},
			DoNothing: true,
		}).Create(row).Error; err != nil {
			return err
		}

		var current summary.AnnotationSummary
		if err := tx.Where("summary_key = ?", row.Key).Take(&current).Error; err != nil {
			return err
		}

		now := r.now()
		member := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&summary.Member{SummaryID: current.ID, AnnotationID: e.ID, CreatedAt: now})
		if member.Error != nil {
			return member.Error
		}
		if member.RowsAffected == 0 {
			return nil
		}

		src := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&summary.Source{SummaryID: current.ID, SourceName: e.Provenance.Source.Name, CreatedAt: now})
		if src.Error != nil {
			return src.Error
		}

		if err := tx.Model(&summary.AnnotationSummary{}).
			Where("id = ?", current.ID).
			Updates(map[string]interface{}{
				"vote_count":   gorm.Expr("vote_count + 1"),
				"source_count": gorm.Expr("source_count + ?", src.RowsAffected),
				"quality":      gorm.Expr("CASE WHEN quality < ? THEN ? ELSE quality END", e.Quality, e.Quality),
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, apperrors.MapDBError("summary.merge", err)
	}
	return applied, nil
}

// Find returns every summary whose value equals the query value, followed by at most Limit
// summaries sharing a token with it. Exact matches are never cut by the limit.
func (r *summaryRepo) Find(dbc dbctx.Context, q Query) ([]*summary.AnnotationSummary, error) {
	value := annotation.NormalizeValue(q.PropertyValue)
	if value == "" {
		return nil, apperrors.Validation("summary: property value is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFindLimit
	}

	var exact []*summary.AnnotationSummary
	if err := r.filtered(dbc, q).
		Where("normalized_value = ?", value).
		Order("quality DESC, vote_count DESC, id ASC").
		Find(&exact).Error; err != nil {
		return nil, apperrors.MapDBError("summary.find", err)
	}

	out := exact
	if toks := tokens(value); len(toks) > 0 {
		conds := make([]string, 0, len(toks))
		args := make([]interface{}, 0, len(toks))
		for _, tok := range toks {
			conds = append(conds, `normalized_value LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(tok)+"%")
		}
		var partial []*summary.AnnotationSummary
		if err := r.filtered(dbc, q).
			Where("normalized_value <> ?", value).
			Where("("+strings.Join(conds, " OR ")+")", args...).
			Order("quality DESC, vote_count DESC, id ASC").
			Limit(limit).
			Find(&partial).Error; err != nil {
			return nil, apperrors.MapDBError("summary.find", err)
		}
		out = append(out, partial...)
	}

	if err := r.loadMembers(dbc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// filtered applies the type and source restrictions shared by both Find queries.
func (r *summaryRepo) filtered(dbc dbctx.Context, q Query) *gorm.DB {
	t := dbc.DB(r.db).Model(&summary.AnnotationSummary{})
	if q.PropertyType != nil {
		t = t.Where("normalized_type = ?", annotation.NormalizeValue(*q.PropertyType))
	}
	if sources := cleanNames(q.SourceNames); len(sources) > 0 {
		t = t.Where("id IN (?)", dbc.DB(r.db).
			Model(&summary.Source{}).
			Select("summary_id").
			Where("source_name IN ?", sources))
	}
	return t
}

func (r *summaryRepo) GetByKey(dbc dbctx.Context, key string) (*summary.AnnotationSummary, error) {
	var out summary.AnnotationSummary
	if err := dbc.DB(r.db).Where("summary_key = ?", key).Take(&out).Error; err != nil {
		return nil, apperrors.MapDBError("summary.get_by_key", err)
	}
	if err := r.loadMembers(dbc, []*summary.AnnotationSummary{&out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset drops all derived state ahead of a rebuild.
func (r *summaryRepo) Reset(dbc dbctx.Context) error {
	return dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&summary.Member{}, &summary.Source{}, &summary.AnnotationSummary{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return apperrors.MapDBError("summary.reset", err)
			}
		}
		return nil
	})
}

func (r *summaryRepo) loadMembers(dbc dbctx.Context, rows []*summary.AnnotationSummary) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	byID := make(map[uuid.UUID]*summary.AnnotationSummary, len(rows))
	for _, s := range rows {
		ids = append(ids, s.ID)
		byID[s.ID] = s
		s.AnnotationIDs = []uuid.UUID{}
		s.SourceNames = []string{}
	}

	var members []summary.Member
	if err := dbc.DB(r.db).Where("summary_id IN ?", ids).Find(&members).Error; err != nil {
		return apperrors.MapDBError("summary.load_members", err)
	}
	for _, m := range members {
		if s := byID[m.SummaryID]; s != nil {
			s.AnnotationIDs = append(s.AnnotationIDs, m.AnnotationID)
		}
	}

	var sources []summary.Source
	if err := dbc.DB(r.db).Where("summary_id IN ?", ids).Find(&sources).Error; err != nil {
		return apperrors.MapDBError("summary.load_sources", err)
	}
	for _, src := range sources {
		if s := byID[src.SummaryID]; s != nil {
			s.SourceNames = append(s.SourceNames, src.SourceName)
		}
	}

	for _, s := range rows {
		sort.Slice(s.AnnotationIDs, func(i, j int) bool { return s.AnnotationIDs[i].String() < s.AnnotationIDs[j].String() })
		sort.Strings(s.SourceNames)
	}
	return nil
}

// tokens splits a normalised value into the words used for partial matching.
func tokens(value string) []string {
	words := strings.FieldsFunc(value, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < minTokenLength {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func cleanNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
