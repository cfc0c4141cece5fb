// Package server exposes the project registry, indexing pipeline, and
// search service over HTTP with JSON payloads.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tanishqjotwani/picocode/internal/config"
	"github.com/tanishqjotwani/picocode/internal/gateway"
	"github.com/tanishqjotwani/picocode/internal/index"
	"github.com/tanishqjotwani/picocode/internal/registry"
	"github.com/tanishqjotwani/picocode/internal/search"
	"github.com/tanishqjotwani/picocode/internal/watcher"
)

// Options tunes the listener and the per-client rate limits. Query and
// indexing endpoints draw from separate budgets since a reindex costs far
// more than a search.
type Options struct {
	Host            string
	Port            int
	QueryLimit      int
	IndexLimit      int
	RateLimitWindow time.Duration
	ShutdownTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Host == "" {
		o.Host = config.DefaultHost
	}
	if o.Port <= 0 {
		o.Port = config.DefaultPort
	}
	if o.QueryLimit <= 0 {
		o.QueryLimit = config.DefaultQueryLimit
	}
	if o.IndexLimit <= 0 {
		o.IndexLimit = config.DefaultIndexingLimit
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Minute
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
}

// Server wires the HTTP surface over the core services. The watcher is
// optional; when present, newly indexed projects join its poll set.
type Server struct {
	reg      *registry.Registry
	pipeline *index.Pipeline
	searcher *search.Service
	gw       *gateway.Gateway
	watch    *watcher.Watcher
	opts     Options

	mu       sync.Mutex
	limiters map[string]*gateway.SlidingWindow

	httpSrv *http.Server
}

// New builds a server over the given services. watch may be nil.
func New(reg *registry.Registry, pipeline *index.Pipeline, searcher *search.Service, gw *gateway.Gateway, watch *watcher.Watcher, opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		reg:      reg,
		pipeline: pipeline,
		searcher: searcher,
		gw:       gw,
		watch:    watch,
		opts:     opts,
		limiters: make(map[string]*gateway.SlidingWindow),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)
	mux.HandleFunc("POST /api/projects/{id}/index", s.handleReindex)
	mux.HandleFunc("POST /api/projects/{id}/query", s.handleQuery)
	mux.HandleFunc("POST /api/projects/{id}/answer", s.handleAnswer)
	mux.HandleFunc("GET /api/projects/{id}/dependencies", s.handleDependencies)
	return s.rateLimit(mux)
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// rateLimit applies a sliding window per client address. Full windows
// get 429 with a Retry-After hint instead of queueing.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := s.limiterFor(r).Allow()
		if !ok {
			secs := int(retryAfter.Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// indexingRequest reports whether the request can kick off indexing work.
func indexingRequest(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	return r.URL.Path == "/api/projects" || strings.HasSuffix(r.URL.Path, "/index")
}

func (s *Server) limiterFor(r *http.Request) *gateway.SlidingWindow {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	key := host + "/query"
	limit := s.opts.QueryLimit
	if indexingRequest(r) {
		key = host + "/index"
		limit = s.opts.IndexLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = gateway.NewSlidingWindow(limit, s.opts.RateLimitWindow)
		s.limiters[key] = lim
	}
	return lim
}

type healthResponse struct {
	Status   string         `json:"status"`
	Gateway  gateway.Status `json:"gateway"`
	Watcher  any            `json:"watcher,omitempty"`
	Projects int            `json:"projects"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	projects, err := s.reg.List()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := healthResponse{
		Status:   "ok",
		Gateway:  s.gw.Status(),
		Projects: len(projects),
	}
	if s.watch != nil {
		resp.Watcher = s.watch.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

type createProjectRequest struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	project, err := s.reg.Create(r.Context(), req.Path, req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Indexing runs in the background; poll the project status to
	// learn when it is ready.
	go s.indexAsync(project.ID)
	writeJSON(w, http.StatusAccepted, project)
}

func (s *Server) indexAsync(projectID string) {
	if _, err := s.pipeline.Index(context.Background(), projectID); err != nil {
		log.Error("background index failed", "project", projectID, "error", err)
		return
	}
	s.searcher.InvalidateProject(projectID)
	if s.watch != nil {
		if err := s.watch.Watch(projectID); err != nil {
			log.Warn("watch registration failed", "project", projectID, "error", err)
		}
	}
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.reg.List()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

type projectDetail struct {
	*registry.Project
	Stats any `json:"stats,omitempty"`
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	detail := projectDetail{Project: project}
	if stats, err := s.searcher.Stats(project.ID); err == nil {
		detail.Stats = stats
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	if s.watch != nil {
		s.watch.Unwatch(project.ID)
	}
	s.searcher.InvalidateProject(project.ID)
	if err := s.reg.Delete(project.ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": project.ID})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	project, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	if project.Status == registry.StatusIndexing {
		writeError(w, http.StatusConflict, "project is already indexing")
		return
	}
	go s.indexAsync(project.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"project_id": project.ID, "status": string(registry.StatusIndexing)})
}

type queryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	project, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	resp, err := s.searcher.Query(r.Context(), project.ID, req.Query, req.Limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	project, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	resp, err := s.searcher.Answer(r.Context(), project.ID, req.Query, req.Limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	project, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	st, err := s.reg.Store(project.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var transitive *bool
	if raw := r.URL.Query().Get("transitive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "transitive must be a boolean")
			return
		}
		transitive = &v
	}
	deps, err := st.ListDependencies(transitive)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": project.ID, "dependencies": deps})
}

// lookupProject resolves the {id} path segment, writing a 404 on miss.
func (s *Server) lookupProject(w http.ResponseWriter, r *http.Request) (*registry.Project, bool) {
	project, err := s.reg.GetByID(r.PathValue("id"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	return project, true
}

// writeServiceError maps err to a status. Internal failures are logged in
// full but reported to the client with a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
