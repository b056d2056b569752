package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndValidate(t *testing.T) {
	ts := NewTokenService("test-secret")
	require.True(t, ts.Enabled())

	token, err := ts.Mint("discovery-service")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	identity, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "discovery-service", identity.Service)
	assert.NotEmpty(t, identity.TokenID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a").Mint("svc")
	require.NoError(t, err)

	_, err = NewTokenService("secret-b").Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewTokenService("secret").Validate("not-a-jwt")
	assert.Error(t, err)
}

func TestMiddlewareRequiresToken(t *testing.T) {
	ts := NewTokenService("secret")
	handler := ts.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := FromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "scanner", identity.Service)
		w.WriteHeader(http.StatusOK)
	}))

	// Missing token
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/analyze", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token
	token, err := ts.Mint("scanner")
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/api/v1/analyze", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareDisabledPassthrough(t *testing.T) {
	ts := NewTokenService("")
	handler := ts.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
