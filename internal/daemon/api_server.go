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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediaforge/internal/api"
	"mediaforge/internal/config"
	"mediaforge/internal/logging"
	"mediaforge/internal/logs"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(strings.TrimSpace(cfg.Paths.APIToken)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, requestContext)
	r.Use(authMiddleware(token))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleEnqueue)
			r.Get("/pending", s.handlePending)
			r.Get("/running", s.handleRunning)
			r.Get("/health", s.handleQueueHealth)
			r.Post("/retry", s.handleRetry)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/cancel", s.handleCancel)
		})
		r.Route("/media", func(r chi.Router) {
			r.Post("/", s.handleRegisterMedia)
			r.Get("/{id}", s.handleGetMedia)
			r.Get("/{id}/artifacts", s.handleArtifacts)
			r.Post("/{id}/tags", s.handleLinkLabels(api.LabelTag))
			r.Post("/{id}/performers", s.handleLinkLabels(api.LabelPerformer))
		})
	})
	return r
}

// requestContext carries chi's request id into the context fields the logger reads.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(services.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
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
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := logs.TailOptions{Offset: -1, Limit: 100, Contains: query.Get("contains")}
	if raw := query.Get("offset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "tail logs", "offset must be an integer", nil))
			return
		}
		opts.Offset = v
	}
	if raw := query.Get("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "tail logs", "lines must be a non-negative integer", nil))
			return
		}
		opts.Limit = v
	}
	if raw := query.Get("wait_ms"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "tail logs", "wait_ms must be a non-negative integer", nil))
			return
		}
		opts.Follow = true
		opts.Wait = time.Duration(v) * time.Millisecond
	}
	resp, err := s.daemon.TailLogs(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	statuses, err := api.ParseStatuses(query["status"]...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := queue.ListFilter{Statuses: statuses, Type: strings.TrimSpace(query.Get("type"))}
	if raw := query.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list jobs", "limit must be a non-negative integer", nil))
			return
		}
	}
	jobs, err := s.daemon.control.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handlePending(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.daemon.control.ListPending(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleRunning(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.daemon.control.ListRunning(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.daemon.control.QueueHealth(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.control.Enqueue(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Coalesced {
		status = http.StatusOK
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.control.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: job})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.control.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: job})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req api.RetryRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	n, err := s.daemon.control.RetryFailed(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CountResponse{Count: n})
}

func (s *apiServer) handleRegisterMedia(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterMediaRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.control.RegisterMedia(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := s.mediaID(w, r)
	if !ok {
		return
	}
	media, err := s.daemon.control.GetMedia(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, media)
}

func (s *apiServer) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := s.mediaID(w, r)
	if !ok {
		return
	}
	resp, err := s.daemon.control.ArtifactsForMedia(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type labelRequest struct {
	Names []string `json:"names"`
}

func (s *apiServer) handleLinkLabels(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.mediaID(w, r)
		if !ok {
			return
		}
		var req labelRequest
		if !s.decode(w, r, &req) {
			return
		}
		media, err := s.daemon.control.LinkLabels(r.Context(), id, kind, req.Names)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, media)
	}
}

func (s *apiServer) mediaID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "media", "invalid media id", nil))
		return 0, false
	}
	return id, true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode", "invalid request body", err))
		return false
	}
	return true
}

// httpStatus maps control errors onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
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
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: string(services.Classify(err))})
}
