package httpmw

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sasasavic82/failsafe-go/resilience"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestGuard_AllowAddsHeaders(t *testing.T) {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Name:          "orders",
		MaxExecutions: 5,
		PerTime:       time.Second,
	})
	h := Guard(GuardConfig{Limiter: rl})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set(resilience.HeaderClientID, "tenant-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(resilience.HeaderRateLimitLimit); got != "5" {
		t.Errorf("RateLimit-Limit = %q, want \"5\"", got)
	}
	if got := rec.Header().Get(resilience.HeaderRateLimitRemaining); got != "4" {
		t.Errorf("RateLimit-Remaining = %q, want \"4\"", got)
	}
	if got := rec.Header().Get(resilience.HeaderBackpressure); got != "0.00" {
		t.Errorf("X-Backpressure = %q, want \"0.00\"", got)
	}
	if got := rec.Header().Get(resilience.HeaderClientID); got != "tenant-1" {
		t.Errorf("X-Client-Id = %q, want \"tenant-1\"", got)
	}
}

func TestGuard_RejectionWrites429(t *testing.T) {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Name:          "orders",
		MaxExecutions: 1,
		PerTime:       time.Second,
		BucketSize:    1,
	})
	h := Guard(GuardConfig{Limiter: rl})(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.Header.Set(resilience.HeaderClientID, "tenant-1")
		h.ServeHTTP(rec, req)

		if i == 0 {
			continue
		}

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", rec.Code)
		}
		if rec.Header().Get(resilience.HeaderRetryAfter) == "" {
			t.Error("Retry-After header missing")
		}
		if rec.Header().Get(resilience.HeaderRetryAfterMs) == "" {
			t.Error("X-RateLimit-Retry-After-Ms header missing")
		}

		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("429 body is not JSON: %v", err)
		}
		if body["error"] != "rate_limit_exceeded" {
			t.Errorf("error = %v", body["error"])
		}
		if body["client_id"] != "tenant-1" {
			t.Errorf("client_id = %v, want tenant-1", body["client_id"])
		}
		if _, ok := body["retry_after_seconds"]; !ok {
			t.Error("retry_after_seconds missing from body")
		}
		if _, ok := body["retry_after_ms"]; !ok {
			t.Error("retry_after_ms missing from body")
		}
	}
}

func TestGuard_BreakerOpenWrites503(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "orders",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	// Trip the breaker through its primitive API.
	if err := cb.Gate(); err != nil {
		t.Fatal(err)
	}
	cb.RecordFailure()

	ex := resilience.NewExecutor(resilience.WithCircuitBreaker(cb))
	h := Guard(GuardConfig{Executor: ex})(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "circuit_breaker_open" {
		t.Errorf("error = %q, want circuit_breaker_open", body["error"])
	}
}

func TestGuard_TimeoutWrites504(t *testing.T) {
	to := resilience.NewTimeout(resilience.TimeoutConfig{Timeout: 10 * time.Millisecond})
	ex := resilience.NewExecutor(resilience.WithTimeout(to))

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	h := Guard(GuardConfig{Executor: ex})(slow)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/slow", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "timeout" {
		t.Errorf("error = %q, want timeout", body["error"])
	}
}

func TestGuard_FeatureDisabledWrites403(t *testing.T) {
	ft := resilience.NewFeatureToggle(resilience.FeatureToggleConfig{InitiallyOff: true})
	ex := resilience.NewExecutor(resilience.WithFeatureToggle(ft))
	h := Guard(GuardConfig{Executor: ex})(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/beta", nil))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestGuard_SkipPaths(t *testing.T) {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		MaxExecutions: 1,
		PerTime:       time.Second,
		BucketSize:    1,
	})
	h := Guard(GuardConfig{Limiter: rl, SkipPaths: []string{"/health"}})(okHandler())

	// Unlimited traffic on the skipped path.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("skipped path status = %d, want 200", rec.Code)
		}
	}

	if tokens := rl.Tokens(); tokens != 1 {
		t.Errorf("Tokens() = %f, want untouched bucket", tokens)
	}
}

func TestGuard_RecordsLatency(t *testing.T) {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		MaxExecutions: 100,
		PerTime:       time.Second,
	})
	h := Guard(GuardConfig{Limiter: rl})(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	// With the request's latency recorded, the score stays within [0,1].
	if b := rl.Backpressure(); b < 0 || b > 1 {
		t.Errorf("Backpressure() = %f, want within [0,1]", b)
	}
}

func TestDefaultClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(resilience.HeaderClientID, "explicit")
	if got := DefaultClientID(req); got != "explicit" {
		t.Errorf("DefaultClientID() = %q, want header value", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	if got := DefaultClientID(req); got != "10.0.0.1" {
		t.Errorf("DefaultClientID() = %q, want first forwarded hop", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	if got := DefaultClientID(req); got != "192.0.2.7" {
		t.Errorf("DefaultClientID() = %q, want remote IP", got)
	}
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{resilience.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{resilience.ErrBulkheadFull, http.StatusServiceUnavailable},
		{resilience.ErrAttemptsExceeded, http.StatusServiceUnavailable},
		{resilience.ErrFailFastOpen, http.StatusServiceUnavailable},
		{resilience.ErrTimeout, http.StatusGatewayTimeout},
		{resilience.ErrHedgeTimeout, http.StatusGatewayTimeout},
		{resilience.ErrFeatureDisabled, http.StatusForbidden},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusCode(tc.err); got != tc.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
