package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type HealthHandler struct {
	db *pgxpool.Pool
}

// NewHealthHandler creates the health endpoints. db may be nil in tests;
// readiness then only reports the process as up.
func NewHealthHandler(db *pgxpool.Pool) *HealthHandler {
	return &HealthHandler{db: db}
}

// Handle responds to GET /healthz.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Ready responds to GET /readyz and fails while the database is unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			respondJSON(w, map[string]any{"status": "degraded", "checks": checks}, http.StatusServiceUnavailable)
			return
		}
		checks["database"] = "ok"
	}

	respondJSON(w, map[string]any{"status": "ok", "checks": checks}, http.StatusOK)
}
