package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/http/response"
)

type FanoutStatus interface {
	Status() []fanout.TopicStatus
}

type FanoutHandler struct {
	fanout  FanoutStatus
	pending func(ctx context.Context) (int64, error)
}

// NewFanoutHandler takes the count of outbox rows not yet relayed; pending may be nil.
func NewFanoutHandler(f FanoutStatus, pending func(ctx context.Context) (int64, error)) *FanoutHandler {
	return &FanoutHandler{fanout: f, pending: pending}
}

// GET /api/admin/fanout/status
func (h *FanoutHandler) Status(c *gin.Context) {
	out := gin.H{"projections": h.fanout.Status()}
	if h.pending != nil {
		n, err := h.pending(c.Request.Context())
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
		out["outbox_pending"] = n
	}
	response.RespondOK(c, out)
}
