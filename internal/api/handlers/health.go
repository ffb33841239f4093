// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/zfonlyone/openlist2strm/internal/dbinterface"
)

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	db dbinterface.Querier
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db dbinterface.Querier) *HealthHandler {
	return &HealthHandler{db: db}
}

// Liveness reports that the process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness reports whether the cache database answers queries.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	var one int
	if err := h.db.QueryRowContext(r.Context(), `SELECT 1`).Scan(&one); err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Database not ready")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
