package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/ontomap-backend/internal/data/repos/summaries"
	"github.com/yungbote/ontomap-backend/internal/http/response"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	"github.com/yungbote/ontomap-backend/internal/prediction"
)

// maxSummaryLimit caps partial matches returned by /api/summaries.
const maxSummaryLimit = 1000

type Predictor interface {
	Predict(ctx context.Context, q prediction.Query) ([]prediction.Prediction, error)
}

type PredictionHandler struct {
	engine    Predictor
	summaries prediction.SummaryFinder
}

func NewPredictionHandler(engine Predictor, summaries prediction.SummaryFinder) *PredictionHandler {
	return &PredictionHandler{engine: engine, summaries: summaries}
}

// GET /api/predictions?propertyValue=&propertyType=&source=&ontology=
func (h *PredictionHandler) Predict(c *gin.Context) {
	preds, err := h.engine.Predict(c.Request.Context(), prediction.Query{
		PropertyType:  optionalParam(c, "propertyType"),
		PropertyValue: c.Query("propertyValue"),
		SourceNames:   listParam(c, "source"),
		Ontologies:    listParam(c, "ontology"),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if preds == nil {
		preds = []prediction.Prediction{}
	}
	response.RespondOK(c, gin.H{
		"predictions": preds,
		"confidence":  prediction.Overall(preds),
	})
}

// GET /api/summaries?propertyValue=&propertyType=&source=&limit=
func (h *PredictionHandler) Summaries(c *gin.Context) {
	rows, err := h.summaries.Find(dbctx.New(c.Request.Context()), summaries.Query{
		PropertyType:  optionalParam(c, "propertyType"),
		PropertyValue: c.Query("propertyValue"),
		SourceNames:   listParam(c, "source"),
		Limit:         min(intParam(c, "limit", 0), maxSummaryLimit),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"summaries": rows, "count": len(rows)})
}
