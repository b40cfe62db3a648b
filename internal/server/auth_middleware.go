package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/placenote/placenote/internal/core/observability/log"
)

// APIKeyHeader and APIKeyQuery are where clients present their key. Browsers
// cannot set headers on a websocket handshake, hence the query fallback.
const (
	APIKeyHeader = "X-Api-Key"
	APIKeyQuery  = "api_key"
)

// APIKeyAuth rejects requests that do not carry the configured key. An empty
// key disables the check.
type APIKeyAuth struct {
	key    string
	logger log.Log
}

func NewAPIKeyAuth(key string, logger log.Log) *APIKeyAuth {
	return &APIKeyAuth{key: key, logger: logger}
}

func (a *APIKeyAuth) Name() string {
	return "APIKeyAuth"
}

// Check reports whether key is acceptable.
func (a *APIKeyAuth) Check(key string) bool {
	if a.key == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.key)) == 1
}

// Wrap guards next with the key check.
func (a *APIKeyAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key = r.URL.Query().Get(APIKeyQuery)
		}
		if !a.Check(key) {
			a.logger.Warn("Rejected unauthenticated request",
				log.String("path", r.URL.Path),
				log.String("remote_addr", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
