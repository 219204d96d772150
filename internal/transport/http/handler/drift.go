package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"contextkeeper/internal/app"
	"contextkeeper/internal/transport/http/response"
)

// DriftHandler runs each computation under its own deadline because the
// engine imposes none.
type DriftHandler struct {
	drift   *app.DriftService
	timeout time.Duration
}

func NewDriftHandler(drift *app.DriftService, timeout time.Duration) *DriftHandler {
	return &DriftHandler{drift: drift, timeout: timeout}
}

func (h *DriftHandler) Degradation(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	score, err := h.drift.ComputeDegradation(ctx, c.Param("id"))
	if err != nil {
		response.FromError(c, err, "compute degradation failed")
		return
	}
	response.OK(c, gin.H{"session_id": c.Param("id"), "degradation": score})
}

func (h *DriftHandler) Report(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	report, err := h.drift.Report(ctx, c.Param("id"))
	if err != nil {
		response.FromError(c, err, "compute drift report failed")
		return
	}
	response.OK(c, report)
}
