// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/models"
)

// CacheHandler exposes the remote state cache.
type CacheHandler struct {
	cache *models.CacheStore
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(cache *models.CacheStore) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Stats returns aggregate cache counters.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: failed to get cache stats")
		RespondError(w, http.StatusInternalServerError, "Failed to get cache stats")
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}
