// Package server exposes the authoring assistant over HTTP: document
// generation, lint, id suggestion and publish, mirroring the JSON payloads
// the SPA frontend expects.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tcwright/internal/allocate"
	"tcwright/internal/config"
	"tcwright/internal/frontmatter"
	"tcwright/internal/generate"
	"tcwright/internal/publish"
	"tcwright/internal/store"
)

// Server wires the handlers to their collaborators.
type Server struct {
	cfg       config.ServerConfig
	st        store.Store
	gen       *generate.Generator
	publisher *publish.Publisher
	provider  string
	model     string
	logger    *zap.Logger
}

// New creates a Server. provider and model are reported by /api/health.
func New(cfg config.ServerConfig, st store.Store, gen *generate.Generator, provider, model string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		st:        st,
		gen:       gen,
		publisher: publish.New(st, logger),
		provider:  provider,
		model:     model,
		logger:    logger,
	}
}

// Handler builds the full route table with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/suggest-id", s.handleSuggestID)
	mux.HandleFunc("POST /api/lint", s.handleLint)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/publish", s.handlePublish)
	// Older frontends still post to the original route name.
	mux.HandleFunc("POST /api/create-mr", s.handlePublish)

	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return s.withRequestLog(s.withCORS(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	readTimeout, _ := time.ParseDuration(s.cfg.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(s.cfg.WriteTimeout)

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type generateRequest struct {
	App      string `json:"app"`
	Area     string `json:"area"`
	Suite    string `json:"suite"`
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
}

type generateResponse struct {
	Markdown string `json:"markdown"`
}

type lintRequest struct {
	Markdown string `json:"markdown"`
}

type lintResponse struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors"`
	Markdown string   `json:"markdown,omitempty"`
}

type publishRequest struct {
	App         string   `json:"app"`
	Area        string   `json:"area"`
	Markdown    string   `json:"markdown"`
	PreferredID string   `json:"preferred_id,omitempty"`
	StoryRefs   []string `json:"story_refs,omitempty"`
}

type publishResponse struct {
	Branch string `json:"branch"`
	MRURL  string `json:"mr_url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"provider": s.provider,
		"model":    s.model,
	})
}

/// handleSuggestID never hard-fails: the worst a broken store can do is
// restart the sequence at 001.
func (s *Server) handleSuggestID(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	area := r.URL.Query().Get("area")
	if app == "" || area == "" {
		writeError(w, http.StatusBadRequest, "app and area are required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"next_id": allocate.NextID(r.Context(), s.st, app, area),
	})
}

func (s *Server) handleLint(w http.ResponseWriter, r *http.Request) {
	var req lintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res := frontmatter.Lint(req.Markdown)
	if !res.OK && res.Normalized == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": res.Errors})
		return
	}
	writeJSON(w, http.StatusOK, lintResponse{
		OK:       res.OK,
		Errors:   append([]string{}, res.Errors...),
		Markdown: res.Normalized,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	md, err := s.gen.Generate(r.Context(), generate.Request{
		App:      req.App,
		Area:     req.Area,
		Suite:    req.Suite,
		Priority: req.Priority,
		Notes:    req.Notes,
	}, r.URL.Query().Get("mode"))
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Markdown: md})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.App == "" || req.Area == "" || req.Markdown == "" {
		writeError(w, http.StatusBadRequest, "app, area and markdown are required")
		return
	}

	res, err := s.publisher.Publish(r.Context(), publish.Request{
		App:         req.App,
		Area:        req.Area,
		Markdown:    req.Markdown,
		PreferredID: req.PreferredID,
		StoryRefs:   req.StoryRefs,
	})
	if err != nil {
		var apiErr *store.APIError
		if errors.As(err, &apiErr) && apiErr.Status > 0 {
			// Surface the store's status and body unchanged.
			writeError(w, apiErr.Status, apiErr.Body)
			return
		}
		s.logger.Error("publish failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, publishResponse{Branch: res.Branch, MRURL: res.MRURL})
}

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, generate.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]string{"message": "Rate limited by model", "code": "rate_limited"},
		})
	case errors.Is(err, generate.ErrUnconfigured):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		var upErr *generate.UpstreamError
		if errors.As(err, &upErr) && upErr.Status > 0 {
			writeError(w, upErr.Status, upErr.Message)
			return
		}
		s.logger.Error("generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message},
	})
}
