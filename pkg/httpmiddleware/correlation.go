package httpmiddleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// CorrelationIDHeader carries the request's correlation id in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationID gives every request a fresh correlation id, ignoring any the
// client sent. The id is stored in the request header and context and echoed
// on the response.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := uuid.New().String()

			r.Header.Set(CorrelationIDHeader, correlationID)
			w.Header().Set(CorrelationIDHeader, correlationID)

			ctx := logger.WithCorrelationIDContext(r.Context(), correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
