// Command mock-executor is a local stand-in for the remediation executor the
// engine dispatches accepted recoveries to.
package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type remediationRequest struct {
	ExecutionID       string         `json:"execution_id"`
	Strategy          string         `json:"strategy"`
	Description       string         `json:"description"`
	Priority          int            `json:"priority"`
	EstimatedImpact   float64        `json:"estimated_impact"`
	RequiredResources []string       `json:"required_resources"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	StartedAt         string         `json:"started_at"`
	Context           map[string]any `json:"context,omitempty"`
}

type remediationResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// rejectStrategies are refused so the engine's error path can be exercised locally.
var rejectStrategies = map[string]bool{
	"manual_intervention": true,
}

func main() {
	var (
		mu       sync.Mutex
		received []remediationRequest
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Logger, middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/api/v1/remediations", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"remediations": received})
	})

	router.Post("/api/v1/remediations", func(w http.ResponseWriter, r *http.Request) {
		var req remediationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, remediationResponse{Message: err.Error()})
			return
		}
		mu.Lock()
		received = append(received, req)
		mu.Unlock()

		if rejectStrategies[req.Strategy] {
			writeJSON(w, http.StatusOK, remediationResponse{Accepted: false, Message: "strategy requires an operator"})
			return
		}
		writeJSON(w, http.StatusAccepted, remediationResponse{Accepted: true, Message: "queued " + req.ExecutionID})
	})

	srv := &http.Server{
		Addr:              ":8090",
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("executor mock listening", slog.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("encode response", slog.Any("error", err))
	}
}
