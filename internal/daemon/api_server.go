package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"photopipe/internal/logging"
	"photopipe/internal/pipeline"
	"photopipe/internal/services"
	"photopipe/internal/taskstore"
)

// AboutText is served by GET /about.
const AboutText = "photopipe photogrammetry pipeline coordinator"

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// ServeAPI starts the HTTP API on paths.api_bind and returns the bound
// address. An empty bind disables the API. The server stops when ctx ends or
// the daemon is closed.
func (d *Daemon) ServeAPI(ctx context.Context) (string, error) {
	bind := strings.TrimSpace(d.cfg.Paths.APIBind)
	if bind == "" {
		return "", nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.api != nil {
		return "", errors.New("api server already running")
	}
	srv := newAPIServer(d, bind, d.logger)
	if err := srv.start(ctx); err != nil {
		return "", err
	}
	d.api = srv
	return srv.listener.Addr().String(), nil
}

// Handler returns the API routes without a listener.
func (d *Daemon) Handler() http.Handler {
	return newAPIServer(d, "", d.logger).routes()
}

func newAPIServer(d *Daemon, bind string, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	token := strings.TrimSpace(s.daemon.cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /about", s.handleAbout)
	mux.HandleFunc("GET /api/status", authMiddleware(token, s.handleStatus))
	mux.HandleFunc("GET /api/tasks", authMiddleware(token, s.handleListTasks))
	mux.HandleFunc("POST /api/tasks", authMiddleware(token, s.handleAddTask))
	mux.HandleFunc("GET /api/tasks/next-id", authMiddleware(token, s.handleNextTaskID))
	mux.HandleFunc("GET /api/tasks/latest-id", authMiddleware(token, s.handleLatestTaskID))
	mux.HandleFunc("POST /api/tasks/restart", authMiddleware(token, s.handleRestartAll))
	mux.HandleFunc("GET /api/tasks/{id}", authMiddleware(token, s.handleGetTask))
	mux.HandleFunc("PUT /api/tasks/{id}", authMiddleware(token, s.handleUpdateTask))
	mux.HandleFunc("DELETE /api/tasks/{id}", authMiddleware(token, s.handleDeleteTask))
	mux.HandleFunc("POST /api/tasks/{id}/restart", authMiddleware(token, s.handleRestartTask))
	if m := s.daemon.opts.Metrics; m != nil {
		mux.HandleFunc("GET /metrics", authMiddleware(token, m.Handler().ServeHTTP))
	}
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleAbout(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(AboutText))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeResult(s, w, s.daemon.store.ListTasks(r.Context()))
}

func (s *apiServer) handleAddTask(w http.ResponseWriter, r *http.Request) {
	task := pipeline.NewTask("")
	if !s.decode(w, r, &task) {
		return
	}
	res := s.daemon.store.AddTask(r.Context(), task)
	if res.OK() {
		s.writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(s, w, res)
}

func (s *apiServer) handleNextTaskID(w http.ResponseWriter, r *http.Request) {
	writeResult(s, w, s.daemon.store.NextTaskID(r.Context()))
}

func (s *apiServer) handleLatestTaskID(w http.ResponseWriter, r *http.Request) {
	writeResult(s, w, s.daemon.store.LatestTaskID(r.Context()))
}

func (s *apiServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	writeResult(s, w, s.daemon.store.GetTask(r.Context(), id))
}

func (s *apiServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	current := s.daemon.store.GetTask(r.Context(), id)
	if !current.OK() {
		writeResult(s, w, current)
		return
	}
	// Fields missing from the body keep their stored values.
	task := current.Data
	if !s.decode(w, r, &task) {
		return
	}
	if task.ID != id {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("body task_id %d does not match path id %d", task.ID, id))
		return
	}
	task.ID = id
	writeResult(s, w, s.daemon.store.UpdateTask(r.Context(), task))
}

func (s *apiServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	writeResult(s, w, s.daemon.store.DeleteTask(r.Context(), id))
}

func (s *apiServer) handleRestartTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	writeResult(s, w, s.daemon.store.RestartTask(r.Context(), taskstore.RestartRequest{TaskID: id}))
}

func (s *apiServer) handleRestartAll(w http.ResponseWriter, r *http.Request) {
	writeResult(s, w, s.daemon.store.RestartTask(r.Context(), taskstore.RestartRequest{All: true}))
}

func (s *apiServer) taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeResult[T any](s *apiServer, w http.ResponseWriter, res taskstore.Result[T]) {
	code := http.StatusOK
	if !res.OK() {
		code = statusFor(res.Err)
	}
	s.writeJSON(w, code, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, taskstore.Result[any]{Status: taskstore.StatusError, Message: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
