package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fentz26/taskhive/internal/models"
	"github.com/fentz26/taskhive/internal/scheduler"
	"github.com/fentz26/taskhive/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Version is reported by /health. Set at build time.
var Version = "dev"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server provides the HTTP API for taskhive.
type Server struct {
	service *Service
	addr    string
	router  chi.Router
	server  *http.Server
	logger  *zap.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTimeouts sets the HTTP read and write timeouts.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new HTTP server with every route registered.
func NewServer(service *Service, addr string, opts ...ServerOption) *Server {
	s := &Server{
		service:      service,
		addr:         addr,
		router:       chi.NewRouter(),
		logger:       zap.NewNop(),
		readTimeout:  10 * time.Second,
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("http")
	s.routes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/", s.submitTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Post("/result", s.reportResult)
		})
	})

	r.Route("/workers", func(r chi.Router) {
		r.Get("/", s.listWorkers)
		r.Post("/", s.registerWorker)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.deregisterWorker)
			r.Post("/heartbeat", s.heartbeat)
			r.Get("/lease", s.leaseNext)
		})
	})

	r.Get("/status", s.status)
	r.Get("/events", s.listEvents)
	r.Post("/reset", s.reset)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("API server listening", zap.String("addr", ln.Addr().String()))
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server.
// A Shutdown that runs before Serve makes Serve return http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// --- Response helpers ---

// pathID returns the decoded {id} route parameter. chi matches on
// URL.RawPath whenever it is set, and the parameter then still carries %XX
// sequences.
func pathID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id, nil
	}
	id, err := url.PathUnescape(id)
	if err != nil {
		return "", fmt.Errorf("%w: malformed id in path: %v", scheduler.ErrInvalidArgument, err)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := toAPIError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, apiErr)
}

// decodeBody decodes a JSON body into v. An empty body is an error unless
// allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return invalidArgument("invalid JSON body: " + err.Error())
	}
	return nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalidArgument("limit must be a non-negative integer")
	}
	return n, nil
}

// --- Health ---

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	db, ok := s.service.PingJournal(ctx)
	resp := HealthResponse{
		OK:      ok,
		DB:      db,
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Task Handlers ---

// SubmitRequest is the body of POST /tasks. TaskID is accepted as an alias
// for ID.
type SubmitRequest struct {
	ID       string          `json:"id,omitempty"`
	TaskID   string          `json:"task_id,omitempty"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority *int            `json:"priority,omitempty"`
}

// SubmitResponse is the body of a successful POST /tasks.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := req.ID
	if id == "" {
		id = req.TaskID
	}

	taskID, err := s.service.SubmitTask(id, req.Type, req.Payload, req.Priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{TaskID: taskID})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := scheduler.TaskFilter{
		State:  models.TaskState(q.Get("state")),
		Type:   q.Get("type"),
		Worker: q.Get("worker"),
	}
	if filter.State != "" && !filter.State.Valid() {
		s.writeError(w, r, invalidArgument(fmt.Sprintf("unknown state %q", filter.State)))
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter.Limit = limit

	writeJSON(w, http.StatusOK, s.service.ListTasks(filter))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.service.GetTask(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ResultRequest is the body of POST /tasks/{id}/result.
type ResultRequest struct {
	Status  models.CompletionStatus `json:"status"`
	Result  json.RawMessage         `json:"result,omitempty"`
	Attempt int                     `json:"attempt,omitempty"`
}

// ResultResponse reports whether a result was accepted.
type ResultResponse struct {
	Applied bool `json:"applied"`
}

func (s *Server) reportResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ResultRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	applied, err := s.service.ReportResult(id, req.Status, req.Result, req.Attempt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{Applied: applied})
}

// --- Worker Handlers ---

// RegisterRequest is the body of POST /workers.
type RegisterRequest struct {
	ID string `json:"id,omitempty"`
}

// RegisterResponse is the body of a successful POST /workers.
type RegisterResponse struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.service.RegisterWorker(req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{WorkerID: id})
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.service.Heartbeat(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// LeaseResponse is the body of GET /workers/{id}/lease. Task is null when
// nothing is queued.
type LeaseResponse struct {
	Task *models.Task `json:"task"`
}

func (s *Server) leaseNext(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.service.LeaseNext(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LeaseResponse{Task: task})
}

// DeregisterResponse lists the tasks requeued by a deregistration.
type DeregisterResponse struct {
	Requeued []string `json:"requeued"`
}

func (s *Server) deregisterWorker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	requeued, err := s.service.DeregisterWorker(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if requeued == nil {
		requeued = []string{}
	}
	writeJSON(w, http.StatusOK, DeregisterResponse{Requeued: requeued})
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListWorkers())
}

// --- Admin Handlers ---

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.service.Reset()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.service.ListEvents(r.Context(), store.EventFilter{
		TaskID:   q.Get("task_id"),
		WorkerID: q.Get("worker_id"),
		Action:   q.Get("action"),
		Limit:    limit,
	})
	if err != nil {
		if !errors.Is(err, ErrJournalDisabled) {
			err = fmt.Errorf("list events: %w", err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
