package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiguardian/internal/auth"
	"apiguardian/internal/config"
	"apiguardian/internal/engine"
	"apiguardian/types"
)

func testServer(t *testing.T, serviceToken string) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Safety: config.SafetyConfig{
			SafeMode:             true,
			MaxFileModifications: 5,
			AllowedExtensions:    []string{".go"},
			BackupsEnabled:       true,
		},
		AuditLog: filepath.Join(dir, "audit.jsonl"),
		WorkDir:  dir,
	}
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	return New(eng, config.ServerConfig{Port: 0, ServiceToken: serviceToken})
}

func analyzeBody(t *testing.T, sessionID string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(engine.AnalysisRequest{
		SessionID: sessionID,
		Endpoint: types.EndpointDescriptor{
			ID:       "ep-1",
			Path:     "/patients",
			Method:   "GET",
			Industry: "healthcare",
		},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := testServer(t, "")

	req := httptest.NewRequest("POST", "/api/v1/analyze", analyzeBody(t, "s1"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                   `json:"success"`
		Data    *types.ExecutionReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "s1", resp.Data.SessionID)
	assert.Equal(t, types.PlanSourceFallback, resp.Data.PlanSource)
	assert.Greater(t, resp.Data.VulnerabilitiesFound, 0)
}

func TestAnalyzeRejectsMalformedBody(t *testing.T) {
	srv := testServer(t, "")

	req := httptest.NewRequest("POST", "/api/v1/analyze", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession(t *testing.T) {
	srv := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/analyze", analyzeBody(t, "s-get")))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/sessions/s-get", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"s-get"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/sessions/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndSession(t *testing.T) {
	srv := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/analyze", analyzeBody(t, "s-del")))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/v1/sessions/s-del", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/sessions/s-del", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchemaEndpoint(t *testing.T) {
	srv := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/schema", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var schema map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
}

func TestServiceTokenEnforced(t *testing.T) {
	srv := testServer(t, "test-secret")

	// No token: API rejected, health still open.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/analyze", analyzeBody(t, "s1")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Valid token passes.
	token, err := auth.NewTokenService("test-secret").Mint("scanner")
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/analyze", analyzeBody(t, "s1"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	srv := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
