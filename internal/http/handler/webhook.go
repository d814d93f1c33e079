package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jobforge.io/notify/internal/http/dto"
	"jobforge.io/notify/internal/model"
	"jobforge.io/notify/internal/store"
)

type WebhookHandler struct {
	deliveries store.DeliveryStore
}

func NewWebhookHandler(deliveries store.DeliveryStore) *WebhookHandler {
	return &WebhookHandler{deliveries: deliveries}
}

func (h *WebhookHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid registration payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := model.NowMs()
	reg := &model.WebhookRegistration{
		ID:          uuid.NewString(),
		URL:         req.URL,
		Events:      req.Events,
		Active:      true,
		Secret:      req.Secret,
		Filters:     req.Filters,
		RetryConfig: model.DefaultRetryConfig(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Active != nil {
		reg.Active = *req.Active
	}
	if req.RetryConfig != nil {
		reg.RetryConfig = *req.RetryConfig
	}

	if err := h.deliveries.Store(ctx, reg); err != nil {
		slog.ErrorContext(ctx, "failed to store registration", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store webhook"})
		return
	}

	c.JSON(http.StatusCreated, dto.ToWebhookResponse(reg))
}

func (h *WebhookHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	regs, err := h.deliveries.GetAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list registrations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhooks"})
		return
	}

	out := make([]*dto.WebhookResponse, 0, len(regs))
	for i := range regs {
		out = append(out, dto.ToWebhookResponse(&regs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": out})
}

func (h *WebhookHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	reg, err := h.deliveries.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch registration", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch webhook"})
		return
	}

	c.JSON(http.StatusOK, dto.ToWebhookResponse(reg))
}

func (h *WebhookHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid update payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reg, err := h.deliveries.Update(ctx, c.Param("id"), store.WebhookPatch{
		URL:         req.URL,
		Events:      req.Events,
		Active:      req.Active,
		Secret:      req.Secret,
		Filters:     req.Filters,
		RetryConfig: req.RetryConfig,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to update registration", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update webhook"})
		return
	}

	c.JSON(http.StatusOK, dto.ToWebhookResponse(reg))
}

func (h *WebhookHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	deleted, err := h.deliveries.Delete(ctx, c.Param("id"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete registration", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete webhook"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *WebhookHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.deliveries.GetStats(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *WebhookHandler) History(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.deliveries.Get(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch registration", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	attempts, total, err := h.deliveries.GetDeliveryHistory(ctx, id, limitQuery(c, 50))
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch delivery history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	c.JSON(http.StatusOK, dto.DeliveryHistoryResponse{Attempts: attempts, TotalCount: total})
}

func (h *WebhookHandler) RecentDeliveries(c *gin.Context) {
	ctx := c.Request.Context()

	attempts, err := h.deliveries.GetRecentDeliveries(ctx, limitQuery(c, 100))
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch recent deliveries", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch deliveries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": attempts})
}

func limitQuery(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
