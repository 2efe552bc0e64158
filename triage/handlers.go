// Copyright 2025 TriageFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"triageflow/platform/shared/logger"
	"triageflow/platform/triage/ratelimit"
	"triageflow/platform/triage/store"
)

// API holds the HTTP handlers for the triage service
type API struct {
	orchestrator *Orchestrator
	repo         store.Repository
	metrics      *MetricsCollector
	log          *logger.Logger
}

// NewAPI wires the handlers against an orchestrator and its repository
func NewAPI(orchestrator *Orchestrator, repo store.Repository, metrics *MetricsCollector) *API {
	return &API{
		orchestrator: orchestrator,
		repo:         repo,
		metrics:      metrics,
		log:          logger.New("api"),
	}
}

// Routes registers all API routes on the router
func (a *API) Routes(r *mux.Router) {
	r.HandleFunc("/health", a.healthHandler).Methods("GET")
	r.HandleFunc("/metrics", a.metricsHandler).Methods("GET")

	r.HandleFunc("/api/v1/alerts/{alertID}/triage", a.triageHandler).Methods("POST")
	r.HandleFunc("/api/v1/runs/{runID}", a.getRunHandler).Methods("GET")
}

// triageHandler starts a triage run and streams progress as Server-Sent
// Events. The run executes on its own goroutine with a background context:
// a client that disconnects mid-stream stops receiving events, but the run
// completes and persists regardless.
func (a *API) triageHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alertID"]
	clientID := ratelimit.ClientIdentity(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := NewStreamSink(0)

	// Deliberately not r.Context(): mid-run cancellation is not supported,
	// the run always finishes.
	go func() {
		if _, err := a.orchestrator.TriageAlert(context.Background(), clientID, alertID, sink); err != nil {
			a.log.ErrorWithErr(clientID, "", "Triage run failed", err, map[string]interface{}{
				"alert_id": alertID,
			})
		}
	}()

	for event := range sink.Events() {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client gone: stop writing. The run keeps going; the sink
			// drops further events without blocking it.
			return
		}
		flusher.Flush()
	}
}

// getRunHandler returns a finished or in-flight run with its step trace
func (a *API) getRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]

	run, err := a.repo.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	trace, err := a.repo.GetTrace(r.Context(), runID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusInternalServerError, "failed to load trace")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":   run,
		"trace": trace,
	})
}

// healthHandler reports service and dependency health
func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	overall := "healthy"
	dbStatus := "healthy"
	status := http.StatusOK
	if err := a.repo.Ping(ctx); err != nil {
		overall = "degraded"
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":    overall,
		"database":  dbStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// metricsHandler serves the aggregated JSON metrics. Prometheus-format
// metrics are exposed separately on /prometheus.
func (a *API) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers already sent, nothing recoverable here
		return
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
