// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/config"
	"github.com/zfonlyone/openlist2strm/internal/domain"
	"github.com/zfonlyone/openlist2strm/internal/emby"
	"github.com/zfonlyone/openlist2strm/internal/qos"
)

// SettingsHandler exposes runtime configuration over the API. QoS changes
// take effect immediately through the governor; everything else is
// persisted and picked up on restart.
type SettingsHandler struct {
	app      *config.AppConfig
	governor *qos.Governor
	emby     *emby.Client
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(app *config.AppConfig, governor *qos.Governor, embyClient *emby.Client) *SettingsHandler {
	return &SettingsHandler{app: app, governor: governor, emby: embyClient}
}

// SettingsResponse is the redacted configuration view. Secrets are masked,
// not echoed.
type SettingsResponse struct {
	OpenListHost  string                `json:"openlistHost"`
	SourceFolders []string              `json:"sourceFolders"`
	STRM          domain.STRMConfig     `json:"strm"`
	QoS           domain.QoSConfig      `json:"qos"`
	Schedule      domain.ScheduleConfig `json:"schedule"`
	EmbyEnabled   bool                  `json:"embyEnabled"`
	EmbyHost      string                `json:"embyHost"`
	QoSStats      qos.Stats             `json:"qosStats"`
}

// Get returns the current settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.app.Config
	RespondJSON(w, http.StatusOK, SettingsResponse{
		OpenListHost:  cfg.OpenList.Host,
		SourceFolders: cfg.OpenList.SourceFolders,
		STRM:          cfg.STRM,
		QoS:           cfg.QoS,
		Schedule:      cfg.Schedule,
		EmbyEnabled:   cfg.Emby.Enabled,
		EmbyHost:      cfg.Emby.Host,
		QoSStats:      h.governor.Stats(),
	})
}

// QoSPayload is the request body for updating rate limits.
type QoSPayload struct {
	QPS            *float64 `json:"qps"`
	MaxConcurrent  *int     `json:"maxConcurrent"`
	ThreadingMode  *string  `json:"threadingMode"`
	ThreadPoolSize *int     `json:"threadPoolSize"`
}

// UpdateQoS changes the rate limits. The new limits apply to in-flight
// scans as soon as the governor is updated.
func (h *SettingsHandler) UpdateQoS(w http.ResponseWriter, r *http.Request) {
	var payload QoSPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	err := h.app.Update(func(cfg *domain.Config) {
		if payload.QPS != nil {
			cfg.QoS.QPS = *payload.QPS
		}
		if payload.MaxConcurrent != nil {
			cfg.QoS.MaxConcurrent = *payload.MaxConcurrent
		}
		if payload.ThreadingMode != nil {
			cfg.QoS.ThreadingMode = domain.ThreadingMode(*payload.ThreadingMode)
		}
		if payload.ThreadPoolSize != nil {
			cfg.QoS.ThreadPoolSize = *payload.ThreadPoolSize
		}
	})
	if err != nil {
		RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.governor.Update(h.app.Config.QoS)
	RespondJSON(w, http.StatusOK, h.app.Config.QoS)
}

// STRMPayload is the request body for updating pointer file generation.
type STRMPayload struct {
	Mode          *string `json:"mode"`
	KeepStructure *bool   `json:"keepStructure"`
	URLEncode     *bool   `json:"urlEncode"`
}

// UpdateSTRM changes pointer generation settings. The change is persisted
// and takes effect on restart; existing pointer files are not rewritten.
func (h *SettingsHandler) UpdateSTRM(w http.ResponseWriter, r *http.Request) {
	var payload STRMPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	err := h.app.Update(func(cfg *domain.Config) {
		if payload.Mode != nil {
			cfg.STRM.Mode = domain.ContentMode(*payload.Mode)
		}
		if payload.KeepStructure != nil {
			cfg.STRM.KeepStructure = *payload.KeepStructure
		}
		if payload.URLEncode != nil {
			cfg.STRM.URLEncode = *payload.URLEncode
		}
	})
	if err != nil {
		RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, h.app.Config.STRM)
}

// TestEmby verifies the configured Emby connection.
func (h *SettingsHandler) TestEmby(w http.ResponseWriter, r *http.Request) {
	if err := h.emby.TestConnection(r.Context()); err != nil {
		log.Debug().Err(err).Msg("api: emby connection test failed")
		RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
