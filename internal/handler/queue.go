package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"civicsync/internal/repository"
	"civicsync/internal/service"
)

type QueueHandler struct {
	Queue *service.QueueService
	Repo  repository.QueueRepository
}

func (h *QueueHandler) Register(r *gin.Engine) {
	q := r.Group("/api/v1/queue")
	q.POST("", h.enqueue)
	q.GET("", h.list)
}

type enqueueRequest struct {
	UserKey     string          `json:"userKey" binding:"required"`
	DeviceID    string          `json:"deviceId" binding:"required"`
	EntityType  string          `json:"entityType" binding:"required"`
	EntityID    string          `json:"entityId" binding:"required"`
	Operation   string          `json:"operation" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    json.RawMessage `json:"metadata"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"maxAttempts"`
}

func (h *QueueHandler) enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item, err := h.Queue.Enqueue(c.Request.Context(),
		req.UserKey, req.DeviceID, req.EntityType, req.EntityID, req.Operation,
		req.Payload,
		service.EnqueueOptions{
			Priority:    req.Priority,
			Metadata:    req.Metadata,
			MaxAttempts: req.MaxAttempts,
		})
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *QueueHandler) list(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Query("device_id"))
	if deviceID == "" {
		Error(c, http.StatusBadRequest, "device_id is required", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListQueueItemsParams{
		DeviceID: deviceID,
		Limit:    limit,
		Offset:   offset,
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		params.Status = &v
	}
	if v := strings.TrimSpace(c.Query("entity_type")); v != "" {
		params.EntityType = &v
	}
	items, err := h.Repo.ListQueueItems(c.Request.Context(), params)
	if err != nil {
		ServiceError(c, err)
		return
	}
	total, err := h.Repo.CountQueueItems(c.Request.Context(), params)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
