package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
	"github.com/lumenlead/prospector/internal/worker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mgr, err := buildManager(env)
		if err != nil {
			return err
		}
		mgr.Start(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env, mgr, cfg.Server.AllowedOrigins),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			mgr.Shutdown(time.Duration(cfg.Queue.ShutdownGraceSecs) * time.Second)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// server carries the handler dependencies.
type server struct {
	env *appEnv
	mgr *worker.Manager
}

// newRouter builds the API router.
func newRouter(env *appEnv, mgr *worker.Manager, allowedOrigins []string) http.Handler {
	s := &server{env: env, mgr: mgr}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/enrich", s.enqueueEnrich)
		r.Post("/enrich/batch", s.enqueueEnrichBatch)
		r.Post("/messages", s.enqueueMessage)
		r.Post("/messages/batch", s.enqueueMessageBatch)
		r.Post("/import", s.enqueueImport)
		r.Post("/export", s.enqueueExport)
		r.Get("/jobs/{id}", s.getJob)
		r.Get("/jobs/stats", s.jobStats)
		r.Get("/events", s.events)
		r.Post("/workers/pause", s.pauseWorkers)
		r.Post("/workers/resume", s.resumeWorkers)
	})

	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	status := s.mgr.Health()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *server) enqueueEnrich(w http.ResponseWriter, r *http.Request) {
	var payload model.EnrichProspectPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	s.enqueue(w, r, payload, payload.UserID)
}

func (s *server) enqueueEnrichBatch(w http.ResponseWriter, r *http.Request) {
	var payload model.EnrichBatchPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	s.enqueue(w, r, payload, payload.UserID)
}

func (s *server) enqueueMessage(w http.ResponseWriter, r *http.Request) {
	var payload model.GenerateMessagePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	s.enqueue(w, r, payload, payload.UserID)
}

func (s *server) enqueueMessageBatch(w http.ResponseWriter, r *http.Request) {
	var payload model.GenerateBatchMessagesPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	s.enqueue(w, r, payload, payload.UserID)
}

func (s *server) enqueueImport(w http.ResponseWriter, r *http.Request) {
	var payload model.ImportPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	s.enqueue(w, r, payload, payload.UserID)
}

func (s *server) enqueueExport(w http.ResponseWriter, r *http.Request) {
	var payload model.ExportPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	s.enqueue(w, r, payload, payload.UserID)
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request, payload model.Payload, userID string) {
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.env.Queue.Enqueue(r.Context(), payload, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"family": string(job.Family),
		"state":  string(job.State),
	})
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.env.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[model.JobFamily]map[model.JobState]int, len(model.JobFamilies))
	for _, family := range model.JobFamilies {
		counts, err := s.env.Queue.Stats(r.Context(), family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		stats[family] = counts
	}
	writeJSON(w, http.StatusOK, stats)
}

// events streams progress for one user over Server-Sent Events. Events
// published before the subscription are not replayed.
func (s *server) events(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, eris.New("user query parameter is required"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, eris.New("streaming unsupported"))
		return
	}

	ch, cancel := s.env.Broadcaster.Subscribe(r.Context(), user)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *server) pauseWorkers(w http.ResponseWriter, r *http.Request) {
	s.mgr.PauseAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *server) resumeWorkers(w http.ResponseWriter, r *http.Request) {
	s.mgr.ResumeAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
