package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/snowdamiz/pulsekit/internal/api/response"
	"github.com/snowdamiz/pulsekit/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyHeader carries the raw API key.
const KeyHeader = "X-PulseKit-Key"

const keyPrefixLen = 8

// KeyStore resolves API keys by their lookup prefix.
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store    KeyStore
	verified *gocache.Cache
}

// NewAuth creates a new Auth middleware. Verified keys are remembered for
// cacheTTL so bcrypt runs once per key per TTL rather than per request.
func NewAuth(s KeyStore, cacheTTL time.Duration) *Auth {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Auth{
		store:    s,
		verified: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Authenticate resolves the request's API key and sets project_id,
// key_prefix and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractKey(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeMissingKey, "Missing API key. Set the "+KeyHeader+" header", nil)
			return
		}

		key, err := a.resolve(r.Context(), rawKey)
		if err != nil {
			slog.Error("api key lookup failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				response.CodeInternal, "Failed to validate API key", nil)
			return
		}
		if key == nil {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidKey, "Invalid API key", nil)
			return
		}

		ctx := r.Context()
		ctx = SetProjectID(ctx, key.ProjectID)
		ctx = SetKeyPrefix(ctx, key.KeyPrefix)
		ctx = SetScopes(ctx, key.Scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve returns the active key matching rawKey, or nil when none does.
func (a *Auth) resolve(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if len(rawKey) < keyPrefixLen {
		return nil, nil
	}

	digest := sha256.Sum256([]byte(rawKey))
	cacheKey := hex.EncodeToString(digest[:])
	if v, ok := a.verified.Get(cacheKey); ok {
		return v.(*models.APIKey), nil
	}

	keys, err := a.store.GetAPIKeysByPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
			continue
		}
		a.verified.SetDefault(cacheKey, key)

		go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)
		return key, nil
	}
	return nil, nil
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(getScopes(r), scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				response.CodeForbidden, "API key lacks the "+scope+" scope", nil)
		})
	}
}

// extractKey reads the key header. Browsers cannot set headers on WebSocket
// upgrades, so those may pass the key as ?key= instead.
func extractKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(KeyHeader)); k != "" {
		return k
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("key"))
	}
	return ""
}
