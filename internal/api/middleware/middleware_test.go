package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCorrelationIDGenerated(t *testing.T) {
	var seen string

	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}

func TestCorrelationIDHonorsIncoming(t *testing.T) {
	handler := CorrelationID()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "given-id")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "given-id", rec.Header().Get("X-Correlation-ID"))
}

func TestRecoveryCatchesPanics(t *testing.T) {
	handler := Recovery(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestCORSPreflight(t *testing.T) {
	cfg := corsConfig{
		origins: []string{"*"},
		methods: []string{"GET", "POST"},
		headers: []string{"Content-Type"},
		maxAge:  600,
	}

	handler := CORS(cfg)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORSSpecificOrigin(t *testing.T) {
	cfg := corsConfig{origins: []string{"https://app.example"}}
	handler := CORS(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type corsConfig struct {
	origins, methods, headers []string
	maxAge                    int
}

func (c corsConfig) GetAllowedOrigins() []string { return c.origins }
func (c corsConfig) GetAllowedMethods() []string { return c.methods }
func (c corsConfig) GetAllowedHeaders() []string { return c.headers }
func (c corsConfig) GetMaxAge() int              { return c.maxAge }

func TestAPIKeyAuth(t *testing.T) {
	hash, err := HashAPIKey("secret-key")
	require.NoError(t, err)

	auth := NewAPIKeyAuthenticator(map[string]string{"ci": hash})
	require.NotNil(t, auth)

	handler := Authenticate(auth, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ci", GetAPIKeyID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	// Missing key.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid via X-Api-Key.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
	req.Header.Set("X-Api-Key", "secret-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Valid via Authorization: Bearer.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatorDisabledWithoutKeys(t *testing.T) {
	assert.Nil(t, NewAPIKeyAuthenticator(nil))
	assert.Nil(t, NewAPIKeyAuthenticator(map[string]string{}))
}

func TestPublicEndpointsBypassAuth(t *testing.T) {
	RegisterPublicEndpoint("/test-public")

	hash, err := HashAPIKey("k")
	require.NoError(t, err)

	handler := Authenticate(NewAPIKeyAuthenticator(map[string]string{"id": hash}), testLogger())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test-public", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := NewInMemoryRateLimiter(1) // 1 rps, burst 2

	handler := RateLimit(limiter, testLogger())(okHandler())

	allowed := 0

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/x", nil))

		if rec.Code == http.StatusOK {
			allowed++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}

	assert.Equal(t, 2, allowed, "burst capacity admits exactly 2 immediate requests")
}

func TestApplyOrder(t *testing.T) {
	var order []string

	tag := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(okHandler(), tag("first"), tag("second"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second"}, order)
}
