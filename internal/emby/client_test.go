// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package emby_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfonlyone/openlist2strm/internal/domain"
	"github.com/zfonlyone/openlist2strm/internal/emby"
	"github.com/zfonlyone/openlist2strm/internal/scanner"
)

type recordedRequest struct {
	method string
	path   string
	token  string
}

func newEmbyServer(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()

	var mu sync.Mutex
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, recordedRequest{
			method: r.Method,
			path:   r.URL.EscapedPath(),
			token:  r.Header.Get("X-Emby-Token"),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestRefreshLibrary(t *testing.T) {
	srv, requests := newEmbyServer(t, http.StatusNoContent)

	client := emby.NewClient(domain.EmbyConfig{
		Enabled: true,
		Host:    srv.URL + "/", // trailing slash is tolerated
		APIKey:  "emby-key",
	})
	require.NoError(t, client.RefreshLibrary(t.Context()))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPost, got[0].method)
	assert.Equal(t, "/Library/Refresh", got[0].path)
	assert.Equal(t, "emby-key", got[0].token)
}

func TestRefreshLibraryTargetsConfiguredLibrary(t *testing.T) {
	srv, requests := newEmbyServer(t, http.StatusNoContent)

	client := emby.NewClient(domain.EmbyConfig{
		Enabled:   true,
		Host:      srv.URL,
		APIKey:    "emby-key",
		LibraryID: "movies 42",
	})
	require.NoError(t, client.RefreshLibrary(t.Context()))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, "/Items/movies%2042/Refresh", got[0].path)
}

func TestScanCompletedSkipsWhenNothingChanged(t *testing.T) {
	srv, requests := newEmbyServer(t, http.StatusNoContent)

	client := emby.NewClient(domain.EmbyConfig{Enabled: true, Host: srv.URL})
	client.ScanCompleted(t.Context(), scanner.Summary{RunID: "run-1"})
	assert.Empty(t, requests(), "a run with zero changes triggers no refresh")

	client.ScanCompleted(t.Context(), scanner.Summary{RunID: "run-2", FilesCreated: 1})
	assert.Len(t, requests(), 1)
}

func TestDisabledClientIsNoOp(t *testing.T) {
	srv, requests := newEmbyServer(t, http.StatusNoContent)

	client := emby.NewClient(domain.EmbyConfig{Enabled: false, Host: srv.URL})
	assert.False(t, client.Enabled())
	require.NoError(t, client.RefreshLibrary(t.Context()))
	client.ScanCompleted(t.Context(), scanner.Summary{FilesCreated: 5})
	assert.Empty(t, requests())

	require.Error(t, client.TestConnection(t.Context()))
}

func TestTestConnection(t *testing.T) {
	srv, requests := newEmbyServer(t, http.StatusOK)
	client := emby.NewClient(domain.EmbyConfig{Enabled: true, Host: srv.URL, APIKey: "emby-key"})
	require.NoError(t, client.TestConnection(t.Context()))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, "/System/Info", got[0].path)

	rejecting, _ := newEmbyServer(t, http.StatusUnauthorized)
	client = emby.NewClient(domain.EmbyConfig{Enabled: true, Host: rejecting.URL, APIKey: "bad"})
	err := client.TestConnection(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}
