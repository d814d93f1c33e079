package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"jobforge.io/notify/internal/model"
	"jobforge.io/notify/internal/store"
)

// receiverBodyCap bounds how much of a captured request body is retained.
const receiverBodyCap = 64 * 1024

type ReceiverHandler struct {
	receivers store.ReceiverStore
	baseURL   string
}

func NewReceiverHandler(receivers store.ReceiverStore, baseURL string) *ReceiverHandler {
	return &ReceiverHandler{receivers: receivers, baseURL: baseURL}
}

func (h *ReceiverHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	baseURL := h.baseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = scheme + "://" + c.Request.Host
	}

	receiver, err := h.receivers.CreateReceiver(ctx, baseURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create test receiver", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create test receiver"})
		return
	}

	c.JSON(http.StatusCreated, receiver)
}

// Receive captures any HTTP call to a receiver's URL. The capture itself is
// best-effort: the caller always gets a 200 as long as the receiver exists.
func (h *ReceiverHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	body, _ := io.ReadAll(io.LimitReader(c.Request.Body, receiverBodyCap))

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		headers[name] = strings.Join(values, ", ")
	}

	err := h.receivers.AppendRequest(ctx, id, model.ReceivedRequest{
		Method:     c.Request.Method,
		Headers:    headers,
		Body:       string(body),
		ReceivedAt: model.NowMs(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "test receiver not found or expired"})
			return
		}
		slog.WarnContext(ctx, "failed to capture request", "receiver_id", id, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *ReceiverHandler) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	requests, err := h.receivers.ListRequests(ctx, id, limitQuery(c, 100))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "test receiver not found or expired"})
			return
		}
		slog.ErrorContext(ctx, "failed to list captured requests", "receiver_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list requests"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests})
}
