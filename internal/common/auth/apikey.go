// Package auth authenticates partner requests by API key.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"blitz-workers/internal/common/errors"
)

// HeaderAPIKey carries the partner key on every request.
const HeaderAPIKey = "X-API-Key"

type contextKey struct{}

// APIKeys maps configured keys to partner ids.
type APIKeys struct {
	keys map[string]string
}

func NewAPIKeys(keys map[string]string) *APIKeys {
	copied := make(map[string]string, len(keys))
	for k, partner := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if partner == "" {
			partner = k
		}
		copied[k] = partner
	}
	return &APIKeys{keys: copied}
}

// Authenticate returns the partner id for key. Every configured key is
// compared so the time taken does not depend on which one matched.
func (a *APIKeys) Authenticate(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	partner, found := "", false
	for candidate, id := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			partner, found = id, true
		}
	}
	return partner, found
}

func (a *APIKeys) Len() int {
	return len(a.keys)
}

// Middleware rejects requests without a valid key and stores the partner id
// in the request context.
func (a *APIKeys) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		partner, ok := a.Authenticate(r.Header.Get(HeaderAPIKey))
		if !ok {
			stdErr := errors.NewInvalidAPIKeyError()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"code":    string(stdErr.Code),
					"message": stdErr.Message,
				},
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPartner(r.Context(), partner)))
	})
}

func WithPartner(ctx context.Context, partnerID string) context.Context {
	return context.WithValue(ctx, contextKey{}, partnerID)
}

// PartnerFromContext returns the authenticated partner id, if any.
func PartnerFromContext(ctx context.Context) string {
	partner, _ := ctx.Value(contextKey{}).(string)
	return partner
}
