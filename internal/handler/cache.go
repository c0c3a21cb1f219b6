package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"civicsync/internal/service"
)

type CacheHandler struct {
	Cache *service.CacheService
}

func (h *CacheHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/cache")
	g.PUT("", h.put)
	g.GET("", h.get)
	g.POST("/stale", h.markStale)
}

type cachePutRequest struct {
	UserKey    string          `json:"userKey" binding:"required"`
	DeviceID   string          `json:"deviceId" binding:"required"`
	CacheKey   string          `json:"cacheKey" binding:"required"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Data       json.RawMessage `json:"data" binding:"required"`
	Metadata   json.RawMessage `json:"metadata"`
	Priority   int             `json:"priority"`
	ExpiresAt  *time.Time      `json:"expiresAt"`
}

func (h *CacheHandler) put(c *gin.Context) {
	var req cachePutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	entry, err := h.Cache.Put(c.Request.Context(),
		req.UserKey, req.DeviceID, req.CacheKey, req.EntityType, req.EntityID,
		req.Data,
		service.CachePutOptions{
			ExpiresAt: req.ExpiresAt,
			Priority:  req.Priority,
			Metadata:  req.Metadata,
		})
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, entry, nil)
}

func (h *CacheHandler) get(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Query("device_id"))
	cacheKey := strings.TrimSpace(c.Query("key"))
	if deviceID == "" || cacheKey == "" {
		Error(c, http.StatusBadRequest, "device_id and key are required", nil)
		return
	}
	entry, err := h.Cache.Get(c.Request.Context(), deviceID, cacheKey)
	if err != nil {
		ServiceError(c, err)
		return
	}
	if entry == nil {
		Error(c, http.StatusNotFound, "cache entry not found", nil)
		return
	}
	Ok(c, entry, nil)
}

type markStaleRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
	Pattern  string `json:"pattern" binding:"required"`
}

func (h *CacheHandler) markStale(c *gin.Context) {
	var req markStaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	n, err := h.Cache.MarkStale(c.Request.Context(), req.DeviceID, req.Pattern)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, gin.H{"marked": n}, nil)
}
