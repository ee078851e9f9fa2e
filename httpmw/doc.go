// Package httpmw guards net/http handlers with a resilience stack.
//
// The middleware runs the admission side of the cooperation loop: it keys
// the rate limiter by client, decorates successful responses with the
// RateLimit-Limit, RateLimit-Remaining, X-Backpressure and X-Client-Id
// headers, and converts guard rejections into the protocol's status codes
// (429 with Retry-After and a JSON body, 503 for breaker/bulkhead/
// fail-fast, 504 for timeouts, 403 for disabled features). Completion
// latencies feed back into the limiter's backpressure window.
//
//	guard := httpmw.Guard(httpmw.GuardConfig{
//	    Limiter:  limiter,
//	    Executor: executor,
//	})
//	mux.Handle("/api/orders", guard(ordersHandler))
//
// Any router that speaks http.Handler composes with the middleware.
package httpmw
