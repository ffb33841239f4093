// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package emby pokes an Emby (or Jellyfin) server to rescan its libraries
// after pointer files change.
package emby

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/domain"
	"github.com/zfonlyone/openlist2strm/internal/scanner"
)

// Client notifies an Emby server about library changes. A disabled client
// is valid and turns every call into a no-op, so callers never need to
// branch on configuration.
type Client struct {
	enabled    bool
	host       string
	apiKey     string
	libraryID  string
	httpClient *http.Client
}

// NewClient builds a client from configuration. The returned client is a
// no-op when notifications are disabled.
func NewClient(cfg domain.EmbyConfig) *Client {
	return &Client{
		enabled:   cfg.Enabled,
		host:      strings.TrimRight(cfg.Host, "/"),
		apiKey:    cfg.APIKey,
		libraryID: cfg.LibraryID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enabled reports whether notifications are configured.
func (c *Client) Enabled() bool {
	return c.enabled
}

// ScanCompleted implements scanner.Notifier. A refresh is only worth
// triggering when the run actually changed the pointer tree.
func (c *Client) ScanCompleted(ctx context.Context, summary scanner.Summary) {
	if !c.enabled {
		return
	}
	if summary.FilesCreated == 0 && summary.FilesUpdated == 0 && summary.FilesDeleted == 0 {
		log.Debug().Str("runID", summary.RunID).Msg("emby: no changes, refresh skipped")
		return
	}
	if err := c.RefreshLibrary(ctx); err != nil {
		log.Error().Err(err).Str("runID", summary.RunID).Msg("emby: library refresh failed")
		return
	}
	log.Info().Str("runID", summary.RunID).Msg("emby: library refresh triggered")
}

// RefreshLibrary asks the server to rescan. With a library ID configured
// only that library is refreshed; otherwise the whole media library is.
func (c *Client) RefreshLibrary(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	path := "/Library/Refresh"
	if c.libraryID != "" {
		path = "/Items/" + url.PathEscape(c.libraryID) + "/Refresh"
	}
	return retry.Do(
		func() error {
			return c.post(ctx, path)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
}

// TestConnection verifies host and API key against the server's system
// info endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.enabled {
		return fmt.Errorf("emby notifications are disabled")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/System/Info", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("emby connection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("emby rejected the API key (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("emby returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("emby request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("emby returned status %d for %s", resp.StatusCode, path)
	}
	return nil
}
