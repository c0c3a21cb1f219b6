package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"civicsync/internal/service"
)

type ConflictHandler struct {
	Conflicts *service.ConflictService
}

func (h *ConflictHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/conflicts")
	g.GET("", h.list)
	g.POST("/:id/resolve", h.resolve)
}

func (h *ConflictHandler) list(c *gin.Context) {
	userKey := strings.TrimSpace(c.Query("user_key"))
	deviceID := strings.TrimSpace(c.Query("device_id"))
	items, err := h.Conflicts.ListUnresolved(c.Request.Context(), userKey, deviceID)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, items, nil)
}

type resolveRequest struct {
	Resolution   string          `json:"resolution" binding:"required"`
	ResolvedData json.RawMessage `json:"resolvedData"`
	ResolvedBy   string          `json:"resolvedBy"`
}

func (h *ConflictHandler) resolve(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	rec, err := h.Conflicts.Resolve(c.Request.Context(), id, req.Resolution, req.ResolvedData, req.ResolvedBy)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, rec, nil)
}
