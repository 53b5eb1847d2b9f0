package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/insightflow/insightflow/pkg/requestid"
)

// RequestID takes the request ID from the X-Request-Id header, or from chi when it
// already generated one, or generates a new one. The ID is stored in the request
// context and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(middleware.RequestIDHeader)

		if requestID == "" {
			requestID = middleware.GetReqID(r.Context())
		}

		if requestID == "" {
			requestID = requestid.Generate()
		}

		w.Header().Set(middleware.RequestIDHeader, requestID)
		ctx := requestid.ToContext(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
