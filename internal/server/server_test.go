package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tcwright/internal/config"
	"tcwright/internal/generate"
	"tcwright/internal/store"
	"tcwright/internal/store/storetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started by go.opencensus.io's package init (via google.golang.org/genai);
		// not stoppable from test code.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func newTestServer(f *storetest.Fake) *Server {
	cfg := config.DefaultConfig().Server
	gen := generate.NewGenerator(nil, nil)
	return New(cfg, f, gen, "stub", "gpt-4o-mini", nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(storetest.New())
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, "stub", got["provider"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSuggestID(t *testing.T) {
	t.Run("next from listing", func(t *testing.T) {
		f := storetest.New()
		f.SeedFiles("APP1", "Login", "APP1-TC-001.md", "APP1-TC-003.md")
		srv := newTestServer(f)

		rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/suggest-id?app=APP1&area=Login", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "APP1-TC-004", got["next_id"])
	})

	t.Run("empty listing falls back to 001", func(t *testing.T) {
		srv := newTestServer(storetest.New())
		rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/suggest-id?app=APP1&area=Login", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "APP1-TC-001")
	})

	t.Run("missing params rejected", func(t *testing.T) {
		srv := newTestServer(storetest.New())
		rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/suggest-id?app=APP1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLintEndpoint(t *testing.T) {
	srv := newTestServer(storetest.New())

	t.Run("clean document", func(t *testing.T) {
		md := generate.StubMarkdown(generate.Request{App: "APP1", Area: "Login", Suite: "Smoke", Priority: "P1"})
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/lint", map[string]string{"markdown": md})
		require.Equal(t, http.StatusOK, rec.Code)

		var got lintResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.OK)
		assert.Empty(t, got.Errors)
		assert.NotEmpty(t, got.Markdown)
	})

	t.Run("missing front-matter is a 400", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/lint", map[string]string{"markdown": "# no meta"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Missing YAML front-matter")
	})

	t.Run("fixable document returns normalization with errors", func(t *testing.T) {
		md := "---\nid: APP1-TC-001\napp: APP1\n---\nbody"
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/lint", map[string]string{"markdown": md})
		require.Equal(t, http.StatusOK, rec.Code)

		var got lintResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.False(t, got.OK)
		assert.Contains(t, got.Errors, "Missing key: owner")
		assert.Contains(t, got.Markdown, "story_refs: []")
	})
}

func TestGenerateEndpoint(t *testing.T) {
	srv := newTestServer(storetest.New())
	body := map[string]string{"app": "APP1", "area": "Login", "suite": "Smoke", "priority": "P1", "notes": "n"}

	t.Run("stub mode", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/generate?mode=stub", body)
		require.Equal(t, http.StatusOK, rec.Code)
		var got generateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Contains(t, got.Markdown, "APP1-TC-XXX")
	})

	t.Run("ai mode without backend", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/generate?mode=ai", body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "not configured")
	})
}

func TestPublishEndpoint(t *testing.T) {
	doc := "---\nid: APP1-TC-001\napp: APP1\narea: Login\nsuite: Smoke\ntype: Functional\npriority: P1\nstatus: Draft\nowner: qa\nautomation:\n  status: Planned\n---\n\n# case\n"

	t.Run("publishes and returns branch and url", func(t *testing.T) {
		f := storetest.New()
		srv := newTestServer(f)

		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/publish", map[string]any{
			"app": "APP1", "area": "Login", "markdown": doc,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var got publishResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "feat/app1-login-app1-tc-001", got.Branch)
		assert.NotEmpty(t, got.MRURL)
	})

	t.Run("create-mr alias", func(t *testing.T) {
		srv := newTestServer(storetest.New())
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/create-mr", map[string]any{
			"app": "APP1", "area": "Login", "markdown": doc,
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		srv := newTestServer(storetest.New())
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/publish", map[string]any{"app": "APP1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure surfaces upstream status", func(t *testing.T) {
		f := storetest.New()
		f.CommitErr = &store.APIError{Status: http.StatusForbidden, Body: "403 insufficient scope"}
		srv := newTestServer(f)

		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/publish", map[string]any{
			"app": "APP1", "area": "Login", "markdown": doc,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "insufficient scope")
	})
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(storetest.New())
	req := httptest.NewRequest(http.MethodOptions, "/api/generate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
