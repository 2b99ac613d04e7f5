package kit

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in and out of HTTP calls.
const RequestIDHeader = "X-Request-ID"

// HTTPContext tags every request context with the HTTP transport and a
// request id, reusing the caller's X-Request-ID when present.
func HTTPContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := WithRequestID(WithTransport(r.Context(), TransportHTTP), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
