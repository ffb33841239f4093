// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/cleanup"
)

// CleanupHandler handles HTTP requests for pointer tree reconciliation.
type CleanupHandler struct {
	reconciler *cleanup.Reconciler
}

// NewCleanupHandler creates a new CleanupHandler.
func NewCleanupHandler(reconciler *cleanup.Reconciler) *CleanupHandler {
	return &CleanupHandler{reconciler: reconciler}
}

// Preview reports what a cleanup would remove without touching anything.
func (h *CleanupHandler) Preview(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Preview(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: cleanup preview failed")
		RespondError(w, http.StatusInternalServerError, "Cleanup preview failed")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// ExecuteCleanupPayload is the request body for running a cleanup.
type ExecuteCleanupPayload struct {
	DryRun bool `json:"dryRun"`
}

// Execute runs a cleanup pass. With dryRun set it behaves like Preview.
func (h *CleanupHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var payload ExecuteCleanupPayload
	if !DecodeJSONOptional(w, r, &payload) {
		return
	}

	report, err := h.reconciler.Execute(r.Context(), payload.DryRun)
	if err != nil {
		log.Error().Err(err).Msg("api: cleanup failed")
		RespondError(w, http.StatusInternalServerError, "Cleanup failed")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
