// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/models"
	"github.com/zfonlyone/openlist2strm/internal/scanner"
)

// ScanHandler handles HTTP requests for scan runs.
type ScanHandler struct {
	scans *scanner.Service
	runs  *models.ScanRunStore
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(scans *scanner.Service, runs *models.ScanRunStore) *ScanHandler {
	return &ScanHandler{scans: scans, runs: runs}
}

// TriggerScanPayload is the request body for starting a scan.
type TriggerScanPayload struct {
	Folders []string `json:"folders"`
	Force   bool     `json:"force"`
}

// Trigger starts a scan run over the requested folders, or all configured
// source folders when none are given.
func (h *ScanHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var payload TriggerScanPayload
	if !DecodeJSONOptional(w, r, &payload) {
		return
	}

	handle, err := h.scans.StartRun(r.Context(), payload.Folders, payload.Force, "api")
	if err != nil {
		if errors.Is(err, scanner.ErrScanActive) {
			RespondError(w, http.StatusConflict, "A scan is already in progress")
			return
		}
		log.Error().Err(err).Msg("api: failed to start scan")
		RespondError(w, http.StatusInternalServerError, "Failed to start scan")
		return
	}

	RespondJSON(w, http.StatusAccepted, map[string]string{"runId": handle.ID})
}

// Cancel stops a running scan.
func (h *ScanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		RespondError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	if err := h.scans.Cancel(runID); err != nil {
		if errors.Is(err, scanner.ErrRunNotFound) {
			RespondError(w, http.StatusNotFound, "No running scan with that ID")
			return
		}
		log.Error().Err(err).Str("runID", runID).Msg("api: failed to cancel scan")
		RespondError(w, http.StatusInternalServerError, "Failed to cancel scan")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Progress returns the state of the current scan, or the last finished one.
func (h *ScanHandler) Progress(w http.ResponseWriter, r *http.Request) {
	progress, ok := h.scans.Progress()
	if !ok {
		RespondJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}
	RespondJSON(w, http.StatusOK, progress)
}

// History returns recent scan runs, newest first.
func (h *ScanHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r, 20, 200)

	runs, err := h.scans.History(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("api: failed to list scan history")
		RespondError(w, http.StatusInternalServerError, "Failed to list scan history")
		return
	}
	if runs == nil {
		runs = []*models.ScanRun{}
	}
	RespondJSON(w, http.StatusOK, runs)
}

// GetRun returns a single scan run by ID.
func (h *ScanHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		RespondError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.runs.Get(r.Context(), runID)
	if err != nil {
		log.Error().Err(err).Str("runID", runID).Msg("api: failed to get scan run")
		RespondError(w, http.StatusInternalServerError, "Failed to get scan run")
		return
	}
	if run == nil {
		RespondError(w, http.StatusNotFound, "Scan run not found")
		return
	}
	RespondJSON(w, http.StatusOK, run)
}
