package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/ontomap-backend/internal/http/response"
	"github.com/yungbote/ontomap-backend/internal/services"
)

type AnnotationHandler struct {
	annotations services.AnnotationService
}

func NewAnnotationHandler(annotations services.AnnotationService) *AnnotationHandler {
	return &AnnotationHandler{annotations: annotations}
}

// POST /api/annotations
func (h *AnnotationHandler) Create(c *gin.Context) {
	var req services.SubmitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	id, err := h.annotations.Submit(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"id": id})
}

type batchRequest struct {
	Annotations []services.SubmitInput `json:"annotations"`
}

// POST /api/annotations/batch
func (h *AnnotationHandler) CreateBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ids, err := h.annotations.SubmitBatch(c.Request.Context(), req.Annotations)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"ids": ids, "count": len(ids)})
}

// GET /api/annotations/:id
func (h *AnnotationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_annotation_id", err)
		return
	}
	a, err := h.annotations.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"annotation": a})
}

// GET /api/annotations?propertyValue=
func (h *AnnotationHandler) List(c *gin.Context) {
	rows, err := h.annotations.ListByPropertyValue(c.Request.Context(), c.Query("propertyValue"), intParam(c, "limit", 100))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"annotations": rows, "count": len(rows)})
}
