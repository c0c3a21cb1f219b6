package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"civicsync/internal/service"
)

type SyncHandler struct {
	Orchestrator *service.Orchestrator
	Stats        *service.StatsService
}

func (h *SyncHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/sync", h.run)
	r.GET("/api/v1/stats", h.stats)
}

type runSyncRequest struct {
	UserKey  string `json:"userKey" binding:"required"`
	DeviceID string `json:"deviceId" binding:"required"`
}

func (h *SyncHandler) run(c *gin.Context) {
	var req runSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	summary, err := h.Orchestrator.RunPass(c.Request.Context(), req.DeviceID, req.UserKey)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, summary, nil)
}

func (h *SyncHandler) stats(c *gin.Context) {
	stats, err := h.Stats.Collect(c.Request.Context())
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, stats, nil)
}
