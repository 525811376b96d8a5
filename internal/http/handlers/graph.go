package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/ontomap-backend/internal/http/response"
	"github.com/yungbote/ontomap-backend/internal/projection/graph"
)

type GraphReader interface {
	Enabled() bool
	SemanticTagsForEntity(ctx context.Context, entityID uuid.UUID) ([]string, error)
	EntitiesForSemanticTag(ctx context.Context, uri string) ([]graph.EntityNode, error)
}

type GraphHandler struct {
	reader GraphReader
}

func NewGraphHandler(reader GraphReader) *GraphHandler {
	return &GraphHandler{reader: reader}
}

var errGraphDisabled = errors.New("graph projection is not configured")

// GET /api/graph/semantic-tags/entities?uri=
func (h *GraphHandler) EntitiesForSemanticTag(c *gin.Context) {
	if h.reader == nil || !h.reader.Enabled() {
		response.RespondError(c, http.StatusServiceUnavailable, "graph_disabled", errGraphDisabled)
		return
	}
	uri := strings.TrimSpace(c.Query("uri"))
	if uri == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_uri", errors.New("uri is required"))
		return
	}
	rows, err := h.reader.EntitiesForSemanticTag(c.Request.Context(), uri)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"entities": rows, "count": len(rows)})
}

// GET /api/graph/entities/:id/semantic-tags
func (h *GraphHandler) SemanticTagsForEntity(c *gin.Context) {
	if h.reader == nil || !h.reader.Enabled() {
		response.RespondError(c, http.StatusServiceUnavailable, "graph_disabled", errGraphDisabled)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_entity_id", err)
		return
	}
	tags, err := h.reader.SemanticTagsForEntity(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"semantic_tags": tags})
}
