package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobforge.io/notify/internal/http/handler"
	"jobforge.io/notify/internal/model"
	"jobforge.io/notify/internal/store"
)

var _ = Describe("WebhookHandler", func() {
	var (
		router     *gin.Engine
		deliveries *mockDeliveryStore
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		deliveries = &mockDeliveryStore{}
		h := handler.NewWebhookHandler(deliveries)

		api := router.Group("/api/v1")
		{
			api.POST("/webhooks", h.Create)
			api.GET("/webhooks", h.List)
			api.GET("/webhooks/:id", h.Get)
			api.PUT("/webhooks/:id", h.Update)
			api.DELETE("/webhooks/:id", h.Delete)
			api.GET("/webhooks/:id/stats", h.Stats)
			api.GET("/webhooks/:id/deliveries", h.History)
			api.GET("/deliveries/recent", h.RecentDeliveries)
		}
	})

	doJSON := func(method, path string, payload any) *httptest.ResponseRecorder {
		var body bytes.Buffer
		if payload != nil {
			Expect(json.NewEncoder(&body).Encode(payload)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("Create", func() {
		It("returns 201 with defaults applied", func() {
			var stored *model.WebhookRegistration
			deliveries.storeFn = func(_ context.Context, reg *model.WebhookRegistration) error {
				stored = reg
				return nil
			}

			w := doJSON(http.MethodPost, "/api/v1/webhooks", map[string]any{
				"url":    "https://example.com/hook",
				"events": []string{"complete_job", "job_failed"},
			})

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(stored).NotTo(BeNil())
			Expect(stored.ID).NotTo(BeEmpty())
			Expect(stored.Active).To(BeTrue())
			Expect(stored.RetryConfig).To(Equal(model.DefaultRetryConfig()))
			Expect(stored.CreatedAt).To(BeNumerically(">", 0))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["id"]).To(Equal(stored.ID))
			Expect(resp["url"]).To(Equal("https://example.com/hook"))
			Expect(resp).NotTo(HaveKey("secret"))
		})

		It("honors explicit active and retry settings", func() {
			var stored *model.WebhookRegistration
			deliveries.storeFn = func(_ context.Context, reg *model.WebhookRegistration) error {
				stored = reg
				return nil
			}

			w := doJSON(http.MethodPost, "/api/v1/webhooks", map[string]any{
				"url":    "https://example.com/hook",
				"events": []string{"complete_job"},
				"active": false,
				"retry_config": map[string]any{
					"max_attempts":       5,
					"initial_delay_ms":   500,
					"backoff_multiplier": 3.0,
					"max_delay_ms":       10000,
				},
			})

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(stored.Active).To(BeFalse())
			Expect(stored.RetryConfig.MaxAttempts).To(Equal(5))
			Expect(stored.RetryConfig.BackoffMultiplier).To(Equal(3.0))
		})

		It("rejects a payload without a valid url", func() {
			w := doJSON(http.MethodPost, "/api/v1/webhooks", map[string]any{
				"url":    "not-a-url",
				"events": []string{"complete_job"},
			})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a payload without events", func() {
			w := doJSON(http.MethodPost, "/api/v1/webhooks", map[string]any{
				"url": "https://example.com/hook",
			})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 500 when storage fails", func() {
			deliveries.storeFn = func(_ context.Context, _ *model.WebhookRegistration) error {
				return fmt.Errorf("redis down")
			}

			w := doJSON(http.MethodPost, "/api/v1/webhooks", map[string]any{
				"url":    "https://example.com/hook",
				"events": []string{"complete_job"},
			})
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("Get", func() {
		It("returns 404 for an unknown webhook", func() {
			deliveries.getFn = func(_ context.Context, id string) (*model.WebhookRegistration, error) {
				return nil, store.ErrNotFound
			}

			w := doJSON(http.MethodGet, "/api/v1/webhooks/missing", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("hides the secret but reports its presence", func() {
			deliveries.getFn = func(_ context.Context, id string) (*model.WebhookRegistration, error) {
				return &model.WebhookRegistration{
					ID:     id,
					URL:    "https://example.com/hook",
					Events: []string{"complete_job"},
					Active: true,
					Secret: "topsecret",
				}, nil
			}

			w := doJSON(http.MethodGet, "/api/v1/webhooks/wh1", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).NotTo(HaveKey("secret"))
			Expect(resp["has_secret"]).To(BeTrue())
		})
	})

	Describe("Update", func() {
		It("passes only the provided fields through as a patch", func() {
			var got store.WebhookPatch
			deliveries.updateFn = func(_ context.Context, id string, patch store.WebhookPatch) (*model.WebhookRegistration, error) {
				got = patch
				return &model.WebhookRegistration{ID: id, URL: "https://example.com/hook", Events: []string{"complete_job"}, Active: false}, nil
			}

			w := doJSON(http.MethodPut, "/api/v1/webhooks/wh1", map[string]any{
				"active": false,
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got.Active).NotTo(BeNil())
			Expect(*got.Active).To(BeFalse())
			Expect(got.URL).To(BeNil())
			Expect(got.Events).To(BeNil())
		})

		It("returns 404 for an unknown webhook", func() {
			deliveries.updateFn = func(_ context.Context, id string, patch store.WebhookPatch) (*model.WebhookRegistration, error) {
				return nil, store.ErrNotFound
			}

			w := doJSON(http.MethodPut, "/api/v1/webhooks/missing", map[string]any{"active": false})
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Delete", func() {
		It("returns 204 when deleted", func() {
			deliveries.deleteFn = func(_ context.Context, id string) (bool, error) {
				return true, nil
			}

			w := doJSON(http.MethodDelete, "/api/v1/webhooks/wh1", nil)
			Expect(w.Code).To(Equal(http.StatusNoContent))
		})

		It("returns 404 when nothing was deleted", func() {
			w := doJSON(http.MethodDelete, "/api/v1/webhooks/missing", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Stats", func() {
		It("returns the stored counters", func() {
			deliveries.getStatsFn = func(_ context.Context, id string) (*model.WebhookDeliveryStats, error) {
				return &model.WebhookDeliveryStats{
					WebhookID:            id,
					TotalDeliveries:      10,
					SuccessfulDeliveries: 7,
					FailedDeliveries:     3,
				}, nil
			}

			w := doJSON(http.MethodGet, "/api/v1/webhooks/wh1/stats", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var stats model.WebhookDeliveryStats
			Expect(json.Unmarshal(w.Body.Bytes(), &stats)).To(Succeed())
			Expect(stats.TotalDeliveries).To(Equal(int64(10)))
			Expect(stats.FailedDeliveries).To(Equal(int64(3)))
		})
	})

	Describe("History", func() {
		BeforeEach(func() {
			deliveries.getFn = func(_ context.Context, id string) (*model.WebhookRegistration, error) {
				return &model.WebhookRegistration{ID: id, URL: "https://example.com/hook", Events: []string{"complete_job"}, Active: true}, nil
			}
		})

		It("applies the limit query parameter", func() {
			var gotLimit int
			deliveries.getDeliveryHistoryFn = func(_ context.Context, id string, limit int) ([]model.WebhookDeliveryAttempt, int64, error) {
				gotLimit = limit
				return []model.WebhookDeliveryAttempt{{WebhookID: id, AttemptNumber: 1, Success: true}}, 1, nil
			}

			w := doJSON(http.MethodGet, "/api/v1/webhooks/wh1/deliveries?limit=5", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotLimit).To(Equal(5))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["total_count"]).To(BeNumerically("==", 1))
		})

		It("falls back to the default limit on junk input", func() {
			var gotLimit int
			deliveries.getDeliveryHistoryFn = func(_ context.Context, id string, limit int) ([]model.WebhookDeliveryAttempt, int64, error) {
				gotLimit = limit
				return nil, 0, nil
			}

			w := doJSON(http.MethodGet, "/api/v1/webhooks/wh1/deliveries?limit=bogus", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotLimit).To(Equal(50))
		})

		It("returns 404 for an unknown webhook", func() {
			deliveries.getFn = func(_ context.Context, id string) (*model.WebhookRegistration, error) {
				return nil, store.ErrNotFound
			}
			historyCalled := false
			deliveries.getDeliveryHistoryFn = func(_ context.Context, id string, limit int) ([]model.WebhookDeliveryAttempt, int64, error) {
				historyCalled = true
				return nil, 0, nil
			}

			w := doJSON(http.MethodGet, "/api/v1/webhooks/missing/deliveries", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(historyCalled).To(BeFalse())
		})
	})
})
