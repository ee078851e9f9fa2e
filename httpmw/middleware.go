package httpmw

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/resilience"
)

// GuardConfig configures the guard middleware.
type GuardConfig struct {
	// Limiter admits requests and drives the backpressure headers.
	// Optional.
	Limiter *resilience.RateLimiter

	// Executor wraps the handler with the rest of the stack (bulkhead,
	// breaker, retry, timeout, ...). Optional.
	Executor *resilience.Executor

	// ClientID extracts the client identity from a request.
	// Default: X-Client-Id header, else first X-Forwarded-For hop,
	// else the remote IP.
	ClientID func(*http.Request) string

	// SkipPaths are path prefixes served without any guard.
	SkipPaths []string

	// Logger records request outcomes. Default: discard.
	Logger observe.Logger

	// Tracer opens a span per guarded request. Optional.
	Tracer trace.Tracer
}

// Guard returns middleware running the configured resilience stack around
// a handler.
func Guard(config GuardConfig) func(http.Handler) http.Handler {
	if config.ClientID == nil {
		config.ClientID = DefaultClientID
	}
	log := config.Logger
	if log == nil {
		log = observe.NopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range config.SkipPaths {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx := r.Context()
			clientID := config.ClientID(r)
			start := time.Now()

			var span trace.Span
			if config.Tracer != nil {
				ctx, span = config.Tracer.Start(ctx, "failsafe.guard "+r.URL.Path,
					trace.WithAttributes(
						attribute.String("http.method", r.Method),
						attribute.String("http.route", r.URL.Path),
						attribute.String("client.id", clientID),
					))
				defer span.End()
				r = r.WithContext(ctx)
			}

			if config.Limiter != nil {
				d := config.Limiter.TryAcquire(ctx, clientID)
				if !d.Allowed {
					writeRejection(w, d, clientID)
					if span != nil {
						span.SetStatus(codes.Error, "rate limited")
					}
					log.Warn(ctx, "request rate limited",
						observe.Field{Key: "client_id", Value: clientID},
						observe.Field{Key: "retry_after", Value: d.RetryAfter.String()},
					)
					return
				}
				for k, v := range d.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(resilience.HeaderClientID, clientID)
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			serve := func(ctx context.Context) error {
				next.ServeHTTP(rec, r.WithContext(ctx))
				return nil
			}

			var err error
			if config.Executor != nil {
				err = config.Executor.Execute(ctx, serve)
			} else {
				err = serve(ctx)
			}

			elapsed := time.Since(start)
			if config.Limiter != nil {
				config.Limiter.RecordLatency(elapsed.Seconds())
			}

			if err != nil {
				if !rec.wrote {
					writeGuardError(w, err, clientID)
				}
				if span != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				log.Error(ctx, "request rejected by guard",
					observe.Field{Key: "client_id", Value: clientID},
					observe.Field{Key: "error", Value: err.Error()},
					observe.Field{Key: "duration_ms", Value: elapsed.Milliseconds()},
				)
				return
			}

			if span != nil {
				span.SetAttributes(attribute.Int("http.status_code", rec.status))
			}
			log.Debug(ctx, "request served",
				observe.Field{Key: "client_id", Value: clientID},
				observe.Field{Key: "status", Value: rec.status},
				observe.Field{Key: "duration_ms", Value: elapsed.Milliseconds()},
			)
		})
	}
}

// DefaultClientID extracts the client identity: the X-Client-Id header,
// else the first X-Forwarded-For hop, else the remote IP.
func DefaultClientID(r *http.Request) string {
	if id := r.Header.Get(resilience.HeaderClientID); id != "" {
		return id
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StatusCode maps a guard error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, resilience.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrBulkheadFull),
		errors.Is(err, resilience.ErrAttemptsExceeded),
		errors.Is(err, resilience.ErrFailFastOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, resilience.ErrTimeout),
		errors.Is(err, resilience.ErrHedgeTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, resilience.ErrFeatureDisabled):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// errorCode maps a guard error to the JSON error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, resilience.ErrRateLimitExceeded):
		return "rate_limit_exceeded"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, resilience.ErrBulkheadFull):
		return "bulkhead_full"
	case errors.Is(err, resilience.ErrAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, resilience.ErrTimeout):
		return "timeout"
	case errors.Is(err, resilience.ErrHedgeTimeout):
		return "hedge_timeout"
	case errors.Is(err, resilience.ErrFailFastOpen):
		return "fail_fast_open"
	case errors.Is(err, resilience.ErrFeatureDisabled):
		return "feature_disabled"
	default:
		return "internal"
	}
}

// writeRejection writes the 429 response for a rate-limit decision.
func writeRejection(w http.ResponseWriter, d resilience.Decision, clientID string) {
	for k, v := range d.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set(resilience.HeaderClientID, clientID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":               "rate_limit_exceeded",
		"message":             "rate limit exceeded, retry later",
		"retry_after_seconds": d.RetryAfter.Seconds(),
		"retry_after_ms":      d.RetryAfter.Milliseconds(),
		"client_id":           clientID,
	})
}

// writeGuardError writes the mapped status and JSON body for a guard error.
func writeGuardError(w http.ResponseWriter, err error, clientID string) {
	status := StatusCode(err)

	var rle *resilience.RateLimitError
	if errors.As(err, &rle) {
		writeRejection(w, resilience.Decision{
			RetryAfter: rle.RetryAfter,
			Headers:    rle.Headers,
		}, clientID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode(err),
		"message": err.Error(),
	})
}

// statusRecorder captures the handler's status code and whether anything
// was written.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wrote = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}
