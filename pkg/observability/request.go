package observability

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestMiddleware assigns each request an id (reusing a client-supplied
// one) and stores a request-scoped logger in its context.
func RequestMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := WithRequestID(r.Context(), requestID)
			ctx = WithLogger(ctx, UpdateLoggerWithTraceContext(ctx, logger).WithField("request_id", requestID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
