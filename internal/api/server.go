// Package api exposes the job system over a small JSON API: submit, cancel,
// status, and a live event stream per job. It is a thin transport over the
// gateway and bridge; all semantics live in the app layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogerlew/longhaul/internal/app/bridge"
	"github.com/rogerlew/longhaul/internal/app/gateway"
	"github.com/rogerlew/longhaul/internal/config"
	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/pkg/common/logger"
	"github.com/rogerlew/longhaul/pkg/common/otel"
)

type Server struct {
	cfg    *config.Config
	logger *logger.Logger
	router *chi.Mux
	tracer trace.Tracer

	gateway *gateway.Gateway
	bridge  *bridge.Bridge
}

func NewServer(
	cfg *config.Config,
	log *logger.Logger,
	tracer trace.Tracer,
	gw *gateway.Gateway,
	br *bridge.Bridge,
) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:     cfg,
		logger:  log,
		router:  r,
		tracer:  tracer,
		gateway: gw,
		bridge:  br,
	}

	s.routes()
	return s
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Get("/jobs/{id}/events", s.handleJobEvents)
	})
}

// principalFrom builds the caller identity from request headers. Real
// identity lives upstream; whatever terminated auth is expected to have set
// these headers.
func principalFrom(r *http.Request) gateway.Principal {
	return gateway.Principal{ID: r.Header.Get("X-Principal-Id")}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload    json.RawMessage `json:"payload"`
		Durability string          `json:"durability"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Error(r.Context(), "failed to decode request", "error", err)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	durability := gateway.Durable
	if req.Durability != "" {
		durability = gateway.Durability(req.Durability)
	}

	id, err := s.gateway.SubmitJob(r.Context(), principalFrom(r), req.Payload, durability)
	switch {
	case errors.Is(err, gateway.ErrNotAuthorized):
		http.Error(w, "not authorized", http.StatusForbidden)
		return
	case errors.Is(err, jobs.ErrQueueUnavailable):
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		s.logger.Error(r.Context(), "failed to submit job", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": id.String()})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	err = s.gateway.CancelJob(r.Context(), principalFrom(r), id)
	switch {
	case errors.Is(err, gateway.ErrNotAuthorized):
		http.Error(w, "not authorized", http.StatusForbidden)
		return
	case err != nil:
		s.logger.Error(r.Context(), "failed to cancel job", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Cancellation is a request, not an outcome; the job reports its own
	// terminal state over the event stream.
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := s.gateway.GetJobStatus(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error(r.Context(), "failed to read job status", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toJobDTO(job))
}

// handleJobEvents streams a job's live events as server-sent events until
// the client disconnects or a terminal event arrives. Clients reconcile
// anything published before they attached with a status read.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := s.bridge.Attach(r.Context(), id)
	if err != nil {
		s.logger.Error(r.Context(), "failed to attach subscriber", "error", err, "job_id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.Events():
			if !open {
				return
			}

			name, payload, terminal := toEventDTO(evt.Payload)
			if name == "" {
				continue
			}
			data, err := json.Marshal(payload)
			if err != nil {
				s.logger.Error(r.Context(), "failed to marshal event", "error", err)
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			flusher.Flush()

			if terminal {
				return
			}
		}
	}
}

// Start runs the API server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", s.cfg.API.Host, s.cfg.API.Port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr, "service", "job-api")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }
