package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	taskqueue "github.com/Swind/go-taskqueue"
	"github.com/Swind/go-taskqueue/core"
)

const defaultRecentTasks = 50

// DebugServer exposes scheduler state over HTTP.
type DebugServer struct {
	scheduler *taskqueue.Scheduler
	gatherer  prom.Gatherer
	logger    *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewDebugServer(scheduler *taskqueue.Scheduler, gatherer prom.Gatherer, logger *zap.Logger) *DebugServer {
	if gatherer == nil {
		gatherer = prom.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DebugServer{scheduler: scheduler, gatherer: gatherer, logger: logger}
}

func (s *DebugServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/debug", func(r chi.Router) {
		r.Get("/queues", s.handleQueues)
		r.Get("/queues/{name}", s.handleQueue)
		r.Post("/queues/{name}/pump", s.handlePump)
		r.Get("/tasks", s.handleTasks)
		r.Get("/quiescence", s.handleQuiescence)
	})
	return r
}

func (s *DebugServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.scheduler.Snapshot()
	status := "ok"
	if snap.ShutDown {
		status = "shut_down"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"queues": len(snap.Queues),
	})
}

func (s *DebugServer) handleQueues(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.Snapshot())
}

func (s *DebugServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := s.findQueue(chi.URLParam(r, "name"))
	if q == nil {
		respondError(w, http.StatusNotFound, "queue_not_found", "no queue named "+chi.URLParam(r, "name"))
		return
	}
	respondJSON(w, http.StatusOK, q.Snapshot())
}

// handlePump pumps a queue on the loop, which is how MANUAL queues make progress.
func (s *DebugServer) handlePump(w http.ResponseWriter, r *http.Request) {
	q := s.findQueue(chi.URLParam(r, "name"))
	if q == nil {
		respondError(w, http.StatusNotFound, "queue_not_found", "no queue named "+chi.URLParam(r, "name"))
		return
	}
	err := s.scheduler.RunSync(r.Context(), func(context.Context) error {
		q.PumpQueue()
		return nil
	})
	if err != nil {
		s.logger.Warn("pump failed", zap.String("queue", q.Name()), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "pump_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, q.Snapshot())
}

func (s *DebugServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentTasks
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records := s.scheduler.Manager().RecentTasks(limit)
	if records == nil {
		records = []core.TaskExecutionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *DebugServer) handleQuiescence(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{
		"quiescent": s.scheduler.Manager().GetAndClearSystemIsQuiescentBit(),
	})
}

func (s *DebugServer) findQueue(name string) *core.TaskQueue {
	for _, q := range s.scheduler.Manager().Queues() {
		if q.Name() == name {
			return q
		}
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
