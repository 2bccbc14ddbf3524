package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authentication errors.
var (
	// ErrMissingAPIKey is returned when no API key is provided.
	ErrMissingAPIKey = errors.New("missing API key")
	// ErrInvalidAPIKey is returned for unknown keys. Deliberately generic
	// to prevent key enumeration.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

const bcryptInputLimit = 72

// apiKeyIDKey is the context key for the authenticated key's ID.
type apiKeyIDKey struct{}

// APIKeyAuthenticator verifies presented API keys against configured
// bcrypt hashes. Keys are never stored or compared in plaintext.
type APIKeyAuthenticator struct {
	// hashes maps key IDs to bcrypt hashes of the key material.
	hashes map[string]string
}

// NewAPIKeyAuthenticator creates an authenticator from id -> bcrypt-hash
// pairs. Returns nil when no keys are configured, which disables
// authentication.
func NewAPIKeyAuthenticator(hashes map[string]string) *APIKeyAuthenticator {
	if len(hashes) == 0 {
		return nil
	}

	return &APIKeyAuthenticator{hashes: hashes}
}

// Verify checks a presented key against every configured hash and returns
// the matching key ID.
func (a *APIKeyAuthenticator) Verify(key string) (string, error) {
	input := bcryptInput(key)

	for id, hash := range a.hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), input) == nil {
			return id, nil
		}
	}

	return "", ErrInvalidAPIKey
}

// HashAPIKey generates a bcrypt hash suitable for the authenticator's
// configuration. Inputs over bcrypt's 72-byte limit are pre-hashed with
// SHA-256.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", ErrMissingAPIKey
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

func bcryptInput(key string) []byte {
	if len(key) > bcryptInputLimit {
		sum := sha256.Sum256([]byte(key))

		return sum[:]
	}

	return []byte(key)
}

// Authenticate creates a middleware that requires a valid API key on every
// non-public endpoint. The key is read from X-Api-Key or from
// Authorization: Bearer.
func Authenticate(auth *APIKeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			key, ok := extractAPIKey(r)
			if !ok {
				writeAuthProblem(w, r, http.StatusUnauthorized, ErrMissingAPIKey.Error())

				return
			}

			keyID, err := auth.Verify(key)
			if err != nil {
				logger.Warn("API key rejected",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
				)

				writeAuthProblem(w, r, http.StatusUnauthorized, ErrInvalidAPIKey.Error())

				return
			}

			ctx := context.WithValue(r.Context(), apiKeyIDKey{}, keyID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKeyID returns the authenticated key's ID, or "" for anonymous
// requests.
func GetAPIKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey{}).(string); ok {
		return id
	}

	return ""
}

// extractAPIKey reads the key from X-Api-Key, falling back to
// Authorization: Bearer. Keys containing newlines are rejected outright.
func extractAPIKey(r *http.Request) (string, bool) {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return cleanAPIKey(key)
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return cleanAPIKey(strings.TrimPrefix(auth, "Bearer "))
	}

	return "", false
}

func cleanAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

func writeAuthProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	problem := map[string]any{
		"type":           "https://migrator.io/problems/401",
		"title":          "Unauthorized",
		"status":         status,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlation_id": GetCorrelationID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}
