// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package domain holds the application configuration and shared enums.
package domain

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ContentMode selects what a generated STRM file contains.
type ContentMode string

const (
	// ContentModePath writes the remote path re-rooted through the path mapping.
	ContentModePath ContentMode = "path"
	// ContentModeDirectLink writes a fully qualified URL served by OpenList.
	ContentModeDirectLink ContentMode = "direct_link"
)

// ThreadingMode controls how directory traversal is parallelized.
type ThreadingMode string

const (
	ThreadingModeSingle ThreadingMode = "single"
	ThreadingModeMulti  ThreadingMode = "multi"
)

// defaultExtensions covers the media container formats OpenList deployments
// commonly serve. Overridable via strm.extensions.
var defaultExtensions = []string{
	".mp4", ".mkv", ".avi", ".ts", ".wmv",
	".rmvb", ".mov", ".flv", ".m2ts", ".webm",
	".mpg", ".mpeg", ".m4v", ".3gp", ".vob",
}

// Config represents the application configuration
type Config struct {
	Version string

	Host    string `toml:"host" mapstructure:"host"`
	Port    int    `toml:"port" mapstructure:"port"`
	BaseURL string `toml:"baseUrl" mapstructure:"baseUrl"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	DataDir  string `toml:"dataDir" mapstructure:"dataDir"`
	APIToken string `toml:"apiToken" mapstructure:"apiToken"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	OpenList OpenListConfig `toml:"openlist" mapstructure:"openlist"`
	STRM     STRMConfig     `toml:"strm" mapstructure:"strm"`
	QoS      QoSConfig      `toml:"qos" mapstructure:"qos"`
	Schedule ScheduleConfig `toml:"schedule" mapstructure:"schedule"`
	Emby     EmbyConfig     `toml:"emby" mapstructure:"emby"`
}

// OpenListConfig holds connection settings for the OpenList server.
type OpenListConfig struct {
	Host           string   `toml:"host" mapstructure:"host"`
	Token          string   `toml:"token" mapstructure:"token"`
	TimeoutSeconds int      `toml:"timeout" mapstructure:"timeout"`
	SourceFolders  []string `toml:"sourceFolders" mapstructure:"sourceFolders"`
}

// STRMConfig controls pointer file generation.
type STRMConfig struct {
	OutputPath    string            `toml:"outputPath" mapstructure:"outputPath"`
	Mode          ContentMode       `toml:"mode" mapstructure:"mode"`
	Extensions    []string          `toml:"extensions" mapstructure:"extensions"`
	KeepStructure bool              `toml:"keepStructure" mapstructure:"keepStructure"`
	URLEncode     bool              `toml:"urlEncode" mapstructure:"urlEncode"`
	PathMapping   map[string]string `toml:"pathMapping" mapstructure:"pathMapping"`
}

// QoSConfig bounds the request rate and concurrency against OpenList.
type QoSConfig struct {
	QPS            float64       `toml:"qps" mapstructure:"qps"`
	MaxConcurrent  int           `toml:"maxConcurrent" mapstructure:"maxConcurrent"`
	ThreadingMode  ThreadingMode `toml:"threadingMode" mapstructure:"threadingMode"`
	ThreadPoolSize int           `toml:"threadPoolSize" mapstructure:"threadPoolSize"`
}

// ScheduleConfig controls the task scheduler loop.
type ScheduleConfig struct {
	TickSeconds  int  `toml:"tickSeconds" mapstructure:"tickSeconds"`
	RunOnStartup bool `toml:"runOnStartup" mapstructure:"runOnStartup"`
	HistoryLimit int  `toml:"historyLimit" mapstructure:"historyLimit"`
}

// EmbyConfig holds the optional media server refresh target.
type EmbyConfig struct {
	Enabled   bool   `toml:"enabled" mapstructure:"enabled"`
	Host      string `toml:"host" mapstructure:"host"`
	APIKey    string `toml:"apiKey" mapstructure:"apiKey"`
	LibraryID string `toml:"libraryId" mapstructure:"libraryId"`
}

// Validate checks settings that would otherwise surface as runtime faults
// deep inside a scan.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OpenList.Host) == "" {
		return errors.New("openlist.host is required")
	}
	if _, err := url.Parse(c.OpenList.Host); err != nil {
		return fmt.Errorf("invalid openlist.host: %w", err)
	}
	if len(c.OpenList.SourceFolders) == 0 {
		return errors.New("openlist.sourceFolders must list at least one remote root")
	}
	for _, folder := range c.OpenList.SourceFolders {
		if !strings.HasPrefix(folder, "/") {
			return fmt.Errorf("openlist.sourceFolders entry %q must be absolute", folder)
		}
	}
	if strings.TrimSpace(c.STRM.OutputPath) == "" {
		return errors.New("strm.outputPath is required")
	}
	switch c.STRM.Mode {
	case ContentModePath, ContentModeDirectLink:
	default:
		return fmt.Errorf("strm.mode must be %q or %q, got %q", ContentModePath, ContentModeDirectLink, c.STRM.Mode)
	}
	switch c.QoS.ThreadingMode {
	case ThreadingModeSingle, ThreadingModeMulti:
	default:
		return fmt.Errorf("qos.threadingMode must be %q or %q, got %q", ThreadingModeSingle, ThreadingModeMulti, c.QoS.ThreadingMode)
	}
	if c.QoS.QPS <= 0 {
		return errors.New("qos.qps must be positive")
	}
	if c.QoS.MaxConcurrent <= 0 {
		return errors.New("qos.maxConcurrent must be positive")
	}
	if c.QoS.ThreadPoolSize <= 0 {
		return errors.New("qos.threadPoolSize must be positive")
	}
	if c.Emby.Enabled && strings.TrimSpace(c.Emby.Host) == "" {
		return errors.New("emby.host is required when emby.enabled is set")
	}
	return nil
}

// NormalizedExtensions returns the configured media extensions lowercased and
// dot-prefixed, falling back to the defaults when none are configured.
func (c *STRMConfig) NormalizedExtensions() map[string]struct{} {
	exts := c.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

// MappingPrefixes returns the path-mapping keys sorted longest first, so
// callers can resolve the most specific prefix without re-sorting per file.
func (c *STRMConfig) MappingPrefixes() []string {
	prefixes := make([]string, 0, len(c.PathMapping))
	for prefix := range c.PathMapping {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})
	return prefixes
}
