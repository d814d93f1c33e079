package notify_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobforge.io/notify/core/config"
	"jobforge.io/notify/internal/event"
	"jobforge.io/notify/internal/model"
	"jobforge.io/notify/internal/notify"
)

func fastRetries(maxAttempts int) model.RetryConfig {
	return model.RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialDelayMs:    1,
		BackoffMultiplier: 2.0,
		MaxDelayMs:        5,
	}
}

var _ = Describe("Engine", func() {
	var (
		deliveries *mockDeliveryStore
		engine     *notify.Engine
		ev         *event.Event
	)

	newEngine := func() *notify.Engine {
		return notify.NewEngine(deliveries, nil, config.DeliveryConfig{
			Timeout:          2 * time.Second,
			MaxResponseBytes: 1024,
		})
	}

	activeRegistration := func(url string) model.WebhookRegistration {
		return model.WebhookRegistration{
			ID:          "wh1",
			URL:         url,
			Events:      []string{"complete_job"},
			Active:      true,
			RetryConfig: fastRetries(3),
		}
	}

	BeforeEach(func() {
		deliveries = &mockDeliveryStore{}
		engine = nil
		ev = &event.Event{
			ID:        "evt-1",
			Type:      event.TypeJobCompleted,
			Timestamp: model.NowMs(),
			JobID:     "job-1",
			Data:      map[string]any{"job_id": "job-1", "result": "ok"},
		}
	})

	AfterEach(func() {
		if engine != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(engine.Shutdown(ctx)).To(Succeed())
		}
	})

	Describe("Dispatch", func() {
		It("delivers to a matching registration and fires the delivered callback once", func() {
			var body atomic.Value
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var p map[string]any
				Expect(json.NewDecoder(r.Body).Decode(&p)).To(Succeed())
				body.Store(p)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			reg := activeRegistration(server.URL)
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return []model.WebhookRegistration{reg}, nil
			}

			engine = newEngine()
			var delivered atomic.Int32
			engine.OnDelivered(func(r notify.DeliveryResult) {
				delivered.Add(1)
				Expect(r.WebhookID).To(Equal("wh1"))
				Expect(r.Success).To(BeTrue())
				Expect(r.Attempts).To(Equal(1))
			})

			engine.Dispatch(context.Background(), ev)

			Eventually(delivered.Load).Should(Equal(int32(1)))
			Consistently(delivered.Load, 50*time.Millisecond).Should(Equal(int32(1)))

			p := body.Load().(map[string]any)
			Expect(p["event_id"]).To(Equal("evt-1"))
			Expect(p["event_type"]).To(Equal("complete_job"))

			attempts := deliveries.recorded()
			Expect(attempts).To(HaveLen(1))
			Expect(attempts[0].Success).To(BeTrue())
			Expect(attempts[0].ResponseStatus).To(Equal(http.StatusOK))
		})

		It("signs the payload when the registration has a secret", func() {
			var header atomic.Value
			var received atomic.Value
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				header.Store(r.Header.Get(notify.SignatureHeader))
				buf, err := io.ReadAll(r.Body)
				Expect(err).NotTo(HaveOccurred())
				received.Store(buf)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			reg := activeRegistration(server.URL)
			reg.Secret = "topsecret"
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return []model.WebhookRegistration{reg}, nil
			}

			engine = newEngine()
			var delivered atomic.Int32
			engine.OnDelivered(func(notify.DeliveryResult) { delivered.Add(1) })

			engine.Dispatch(context.Background(), ev)
			Eventually(delivered.Load).Should(Equal(int32(1)))

			sig, _ := header.Load().(string)
			Expect(sig).To(HavePrefix("sha256="))
			Expect(sig).To(Equal(notify.Sign("topsecret", received.Load().([]byte))))
		})

		It("retries until exhaustion and fires the failed callback once", func() {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			reg := activeRegistration(server.URL)
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return []model.WebhookRegistration{reg}, nil
			}

			engine = newEngine()
			var failed atomic.Int32
			var last notify.DeliveryResult
			var mu sync.Mutex
			engine.OnFailed(func(r notify.DeliveryResult) {
				mu.Lock()
				last = r
				mu.Unlock()
				failed.Add(1)
			})

			engine.Dispatch(context.Background(), ev)

			Eventually(failed.Load).Should(Equal(int32(1)))
			Consistently(failed.Load, 50*time.Millisecond).Should(Equal(int32(1)))
			Expect(hits.Load()).To(Equal(int32(3)))

			mu.Lock()
			defer mu.Unlock()
			Expect(last.Attempts).To(Equal(3))
			Expect(last.Success).To(BeFalse())
			Expect(last.LastStatus).To(Equal(http.StatusInternalServerError))

			attempts := deliveries.recorded()
			Expect(attempts).To(HaveLen(3))
			for i, a := range attempts {
				Expect(a.AttemptNumber).To(Equal(i + 1))
				Expect(a.Success).To(BeFalse())
				Expect(a.ErrorMessage).To(ContainSubstring("unexpected status 500"))
			}
		})

		It("recovers from a failing endpoint on a later attempt", func() {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			reg := activeRegistration(server.URL)
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return []model.WebhookRegistration{reg}, nil
			}

			engine = newEngine()
			var delivered, failed atomic.Int32
			engine.OnDelivered(func(r notify.DeliveryResult) {
				Expect(r.Attempts).To(Equal(3))
				delivered.Add(1)
			})
			engine.OnFailed(func(notify.DeliveryResult) { failed.Add(1) })

			engine.Dispatch(context.Background(), ev)

			Eventually(delivered.Load).Should(Equal(int32(1)))
			Expect(failed.Load()).To(Equal(int32(0)))

			attempts := deliveries.recorded()
			Expect(attempts).To(HaveLen(3))
			Expect(attempts[2].Success).To(BeTrue())
		})

		It("makes no attempt for a registration not subscribed to the event type", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Fail("endpoint should not be called")
			}))
			defer server.Close()

			reg := activeRegistration(server.URL)
			reg.Events = []string{"complete_job"}
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return []model.WebhookRegistration{reg}, nil
			}

			engine = newEngine()
			failedEv := &event.Event{
				ID:        "evt-2",
				Type:      event.TypeJobFailed,
				Timestamp: model.NowMs(),
				JobID:     "job-1",
				Data:      map[string]any{"job_id": "job-1"},
			}
			engine.Dispatch(context.Background(), failedEv)

			Consistently(func() int { return len(deliveries.recorded()) }, 50*time.Millisecond).Should(Equal(0))
		})

		It("skips dispatch when the registration lookup fails", func() {
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return nil, fmt.Errorf("connection refused")
			}

			engine = newEngine()
			engine.Dispatch(context.Background(), ev)

			Consistently(func() int { return len(deliveries.recorded()) }, 50*time.Millisecond).Should(Equal(0))
		})

		It("keeps delivering when attempt recording fails", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			reg := activeRegistration(server.URL)
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return []model.WebhookRegistration{reg}, nil
			}
			deliveries.recordAttemptFn = func(ctx context.Context, attempt model.WebhookDeliveryAttempt) error {
				return fmt.Errorf("redis down")
			}

			engine = newEngine()
			var delivered atomic.Int32
			engine.OnDelivered(func(notify.DeliveryResult) { delivered.Add(1) })

			engine.Dispatch(context.Background(), ev)
			Eventually(delivered.Load).Should(Equal(int32(1)))
		})

		It("records a transport error when the endpoint is unreachable", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			url := server.URL
			server.Close()

			reg := activeRegistration(url)
			reg.RetryConfig = fastRetries(1)
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return []model.WebhookRegistration{reg}, nil
			}

			engine = newEngine()
			var failed atomic.Int32
			engine.OnFailed(func(notify.DeliveryResult) { failed.Add(1) })

			engine.Dispatch(context.Background(), ev)
			Eventually(failed.Load).Should(Equal(int32(1)))

			attempts := deliveries.recorded()
			Expect(attempts).To(HaveLen(1))
			Expect(attempts[0].Success).To(BeFalse())
			Expect(attempts[0].ResponseStatus).To(BeZero())
			Expect(attempts[0].ErrorMessage).NotTo(BeEmpty())
		})
	})

	Describe("Shutdown", func() {
		It("cancels pending retries", func() {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			reg := activeRegistration(server.URL)
			reg.RetryConfig = model.RetryConfig{
				MaxAttempts:       5,
				InitialDelayMs:    60000,
				BackoffMultiplier: 2.0,
				MaxDelayMs:        60000,
			}
			deliveries.getActiveFn = func(ctx context.Context) ([]model.WebhookRegistration, error) {
				return []model.WebhookRegistration{reg}, nil
			}

			e := notify.NewEngine(deliveries, nil, config.DeliveryConfig{Timeout: 2 * time.Second})
			e.Dispatch(context.Background(), ev)

			Eventually(hits.Load).Should(Equal(int32(1)))

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			Expect(e.Shutdown(ctx)).To(Succeed())
			Expect(hits.Load()).To(Equal(int32(1)))
		})
	})
})
