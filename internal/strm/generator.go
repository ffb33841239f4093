// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package strm materializes walker decisions as local pointer files and keeps
// the cache store in lockstep with what exists on disk.
package strm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/domain"
	"github.com/zfonlyone/openlist2strm/internal/models"
)

// WriteAction reports what a write actually did on disk.
type WriteAction string

const (
	WriteActionCreated   WriteAction = "created"
	WriteActionUpdated   WriteAction = "updated"
	WriteActionUnchanged WriteAction = "unchanged"
)

// Generator writes and removes .strm pointer files.
type Generator struct {
	outputRoot    string
	mode          domain.ContentMode
	host          string
	keepStructure bool
	urlEncode     bool
	extensions    map[string]struct{}
	mapping       map[string]string
	prefixes      []string
	cache         *models.CacheStore
}

// NewGenerator builds a generator. host is the OpenList base URL used for
// direct_link content when no mapping matches.
func NewGenerator(cfg domain.STRMConfig, host string, cache *models.CacheStore) *Generator {
	return &Generator{
		outputRoot:    filepath.Clean(cfg.OutputPath),
		mode:          cfg.Mode,
		host:          strings.TrimRight(host, "/"),
		keepStructure: cfg.KeepStructure,
		urlEncode:     cfg.URLEncode,
		extensions:    cfg.NormalizedExtensions(),
		mapping:       cfg.PathMapping,
		prefixes:      cfg.MappingPrefixes(),
		cache:         cache,
	}
}

// OutputRoot returns the local root all pointer files live under.
func (g *Generator) OutputRoot() string {
	return g.outputRoot
}

// Mode returns the active content mode.
func (g *Generator) Mode() domain.ContentMode {
	return g.mode
}

// IsMediaFile reports whether the filename has a recognized media extension.
func (g *Generator) IsMediaFile(name string) bool {
	_, ok := g.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// PointerPath maps a remote path onto the local .strm location. With
// keepStructure the remote tree is mirrored under the output root; otherwise
// pointer files are flattened to their basename.
func (g *Generator) PointerPath(remotePath string) string {
	rel := strings.TrimPrefix(remotePath, "/")
	ext := filepath.Ext(rel)
	rel = strings.TrimSuffix(rel, ext) + ".strm"
	if !g.keepStructure {
		rel = filepath.Base(rel)
	}
	return filepath.Join(g.outputRoot, filepath.FromSlash(rel))
}

// Content computes what the pointer file for a remote path should contain.
func (g *Generator) Content(remotePath string) string {
	prefix, mapped := g.resolveMapping(remotePath)

	switch g.mode {
	case domain.ContentModeDirectLink:
		if mapped != "" {
			rest := remotePath[len(prefix):]
			if g.urlEncode {
				rest = encodePath(rest)
			}
			return strings.TrimRight(mapped, "/") + rest
		}
		p := remotePath
		if g.urlEncode {
			p = encodePath(p)
		}
		return g.host + "/d" + p

	default: // path mode
		if mapped != "" {
			return strings.TrimRight(mapped, "/") + remotePath[len(prefix):]
		}
		return remotePath
	}
}

// resolveMapping finds the longest configured prefix covering remotePath.
func (g *Generator) resolveMapping(remotePath string) (prefix, target string) {
	for _, p := range g.prefixes {
		if strings.HasPrefix(remotePath, p) {
			return p, g.mapping[p]
		}
	}
	return "", ""
}

// Write materializes a Create/Update decision: atomic file write followed by
// the cache upsert. The cache entry is only touched after a successful write,
// so a failed write is retried on the next walk.
func (g *Generator) Write(ctx context.Context, remotePath string, size int64, mtime time.Time) (WriteAction, error) {
	pointerPath := g.PointerPath(remotePath)
	content := g.Content(remotePath)

	action, err := writeFileAtomic(pointerPath, content)
	if err != nil {
		return action, fmt.Errorf("write pointer %s: %w", pointerPath, err)
	}

	entry := &models.CacheEntry{
		RemotePath:       remotePath,
		Parent:           models.ParentDir(remotePath),
		Kind:             models.EntryKindFile,
		Size:             size,
		RemoteMTime:      mtime,
		LocalPointerPath: pointerPath,
		ContentMode:      g.mode,
	}
	if err := g.cache.Upsert(ctx, entry); err != nil {
		return action, err
	}

	log.Debug().Str("remote", remotePath).Str("pointer", pointerPath).Str("action", string(action)).Msg("strm: wrote pointer")
	return action, nil
}

// Delete removes the pointer file (tolerating absence) and the cache entry.
func (g *Generator) Delete(ctx context.Context, remotePath, pointerPath string) error {
	if pointerPath != "" {
		if err := os.Remove(pointerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove pointer %s: %w", pointerPath, err)
		}
	}
	if err := g.cache.Delete(ctx, remotePath); err != nil {
		return err
	}
	log.Debug().Str("remote", remotePath).Str("pointer", pointerPath).Msg("strm: removed pointer")
	return nil
}

// writeFileAtomic writes content via temp-file-then-rename so the media
// server can never observe a half-written pointer. Returns unchanged when the
// file already holds the exact content.
func writeFileAtomic(path, content string) (WriteAction, error) {
	action := WriteActionCreated
	if existing, err := os.ReadFile(path); err == nil {
		if string(existing) == content {
			return WriteActionUnchanged, nil
		}
		action = WriteActionUpdated
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return action, err
	}

	tmp, err := os.CreateTemp(dir, ".strm-*.tmp")
	if err != nil {
		return action, err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return action, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return action, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return action, err
	}
	return action, nil
}

// encodePath percent-encodes a remote path, keeping '/' separators.
func encodePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
