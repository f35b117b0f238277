package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey is the context key under which the request ID travels.
const RequestIDKey contextKey = "request_id"

// requestIDHeader is the header used both to accept a caller-supplied ID and
// to echo the effective ID back on the response.
const requestIDHeader = "X-Request-ID"

// maxClientRequestID caps caller-supplied IDs so a hostile header cannot
// bloat every log line of the request.
const maxClientRequestID = 64

// RequestID tags each request with an identifier that follows it through
// logs and into the usage ledger. A caller-supplied X-Request-ID is honored
// when it is reasonably sized, so upstream proxies can correlate; otherwise
// a fresh UUIDv7 is minted. Either way the effective ID is echoed on the
// response and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxClientRequestID {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// GetRequestID returns the request ID carried by ctx, or "" when the request
// never passed through the RequestID middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
