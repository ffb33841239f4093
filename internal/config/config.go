// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and persists the application configuration from a
// TOML file, with environment variable overrides under the OPENLIST2STRM_
// prefix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/zfonlyone/openlist2strm/internal/domain"
)

const configFileName = "config.toml"

var configTemplate = `# config.toml

# Hostname / IP the HTTP API binds to.
#
# Default: "localhost"
#
host = "localhost"

# Port the HTTP API listens on.
#
# Default: 8282
#
port = 8282

# Base url prefix when served behind a reverse proxy, e.g. "/openlist2strm/".
#
# Default: "/"
#
#baseUrl = "/"

# Log level. Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
#
# Default: "INFO"
#
logLevel = "INFO"

# Log file path. Leave empty to log only to stdout.
#
#logPath = "log/openlist2strm.log"

# API token required on every request when set.
#
#apiToken = ""

# Expose Prometheus metrics on /metrics.
#
# Default: false
#
#metricsEnabled = false

[openlist]
# Base URL of the OpenList server.
host = "http://localhost:5244"

# API token for the OpenList server.
token = ""

# Request timeout in seconds.
#
# Default: 30
#
#timeout = 30

# Remote folders to mirror.
sourceFolders = ["/media"]

[strm]
# Local directory the pointer tree is written to.
outputPath = "/data/strm"

# Pointer content mode: "path" or "direct_link".
#
# Default: "path"
#
mode = "path"

# Mirror the remote directory structure. When false, pointer files are
# flattened into outputPath.
#
# Default: true
#
keepStructure = true

# Percent-encode the path portion of direct links.
#
# Default: false
#
#urlEncode = false

[qos]
# Requests per second against the OpenList API.
#
# Default: 5
#
qps = 5.0

# Concurrent in-flight requests.
#
# Default: 4
#
maxConcurrent = 4

# Traversal mode: "single" or "multi".
#
# Default: "multi"
#
threadingMode = "multi"

# Worker count for multi-threaded traversal.
#
# Default: 4
#
threadPoolSize = 4

[schedule]
# Scheduler poll interval in seconds.
#
# Default: 5
#
#tickSeconds = 5

# Scan every enabled task once at startup.
#
# Default: false
#
#runOnStartup = false

# Scan runs kept in history.
#
# Default: 100
#
#historyLimit = 100

[emby]
# Notify an Emby/Jellyfin server after scans that changed the pointer tree.
#
# Default: false
#
enabled = false

#host = "http://localhost:8096"
#apiKey = ""
#libraryId = ""
`

// AppConfig wraps the runtime configuration together with the viper
// instance that loaded it, so settings changed through the API can be
// written back to the same file.
type AppConfig struct {
	Config *domain.Config

	mu         sync.Mutex
	viper      *viper.Viper
	configPath string
}

// New loads the configuration. configPath may name a file or a directory;
// when empty the default config dir is used. A missing config file is
// created from the template.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &domain.Config{},
		viper:  viper.New(),
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}
	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

func (c *AppConfig) defaults() {
	v := c.viper

	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8282)
	v.SetDefault("baseUrl", "/")
	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logPath", "")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("dataDir", "")
	v.SetDefault("apiToken", "")
	v.SetDefault("metricsEnabled", false)

	v.SetDefault("openlist.host", "")
	v.SetDefault("openlist.token", "")
	v.SetDefault("openlist.timeout", 30)
	v.SetDefault("openlist.sourceFolders", []string{})

	v.SetDefault("strm.outputPath", "")
	v.SetDefault("strm.mode", string(domain.ContentModePath))
	v.SetDefault("strm.extensions", []string{})
	v.SetDefault("strm.keepStructure", true)
	v.SetDefault("strm.urlEncode", false)
	v.SetDefault("strm.pathMapping", map[string]string{})

	v.SetDefault("qos.qps", 5.0)
	v.SetDefault("qos.maxConcurrent", 4)
	v.SetDefault("qos.threadingMode", string(domain.ThreadingModeMulti))
	v.SetDefault("qos.threadPoolSize", 4)

	v.SetDefault("schedule.tickSeconds", 5)
	v.SetDefault("schedule.runOnStartup", false)
	v.SetDefault("schedule.historyLimit", 100)

	v.SetDefault("emby.enabled", false)
	v.SetDefault("emby.host", "")
	v.SetDefault("emby.apiKey", "")
	v.SetDefault("emby.libraryId", "")
}

func (c *AppConfig) load(configPath string) error {
	v := c.viper

	v.SetEnvPrefix("OPENLIST2STRM_")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	switch {
	case configPath == "":
		configPath = filepath.Join(getDefaultConfigDir(), configFileName)
	case isDir(configPath):
		configPath = filepath.Join(configPath, configFileName)
	}
	c.configPath = configPath

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}
		log.Info().Str("path", configPath).Msg("config: wrote default config file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configPath, err)
	}
	return nil
}

// Path returns the config file in use.
func (c *AppConfig) Path() string {
	return c.configPath
}

// GetDatabasePath returns the cache database location: dataDir when
// configured, otherwise next to the config file.
func (c *AppConfig) GetDatabasePath() string {
	if c.Config.DataDir != "" {
		return filepath.Join(c.Config.DataDir, "openlist2strm.db")
	}
	return filepath.Join(filepath.Dir(c.configPath), "openlist2strm.db")
}

// GetLogPath resolves the configured log file path relative to the config
// directory. Empty means stdout only.
func (c *AppConfig) GetLogPath() string {
	if c.Config.LogPath == "" {
		return ""
	}
	if filepath.IsAbs(c.Config.LogPath) {
		return c.Config.LogPath
	}
	return filepath.Join(filepath.Dir(c.configPath), c.Config.LogPath)
}

// Update applies fn to a copy of the configuration, validates the result,
// swaps it in and writes it back to the config file. Sub-config changes
// (QoS, STRM, Emby) become visible to services holding *domain.Config.
func (c *AppConfig) Update(fn func(*domain.Config)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := *c.Config
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	*c.Config = next
	return c.persist()
}

func (c *AppConfig) persist() error {
	v := c.viper
	cfg := c.Config

	v.Set("host", cfg.Host)
	v.Set("port", cfg.Port)
	v.Set("baseUrl", cfg.BaseURL)
	v.Set("logLevel", cfg.LogLevel)
	v.Set("logPath", cfg.LogPath)
	v.Set("logMaxSize", cfg.LogMaxSize)
	v.Set("logMaxBackups", cfg.LogMaxBackups)
	v.Set("dataDir", cfg.DataDir)
	v.Set("apiToken", cfg.APIToken)
	v.Set("metricsEnabled", cfg.MetricsEnabled)

	v.Set("openlist.host", cfg.OpenList.Host)
	v.Set("openlist.token", cfg.OpenList.Token)
	v.Set("openlist.timeout", cfg.OpenList.TimeoutSeconds)
	v.Set("openlist.sourceFolders", cfg.OpenList.SourceFolders)

	v.Set("strm.outputPath", cfg.STRM.OutputPath)
	v.Set("strm.mode", string(cfg.STRM.Mode))
	v.Set("strm.extensions", cfg.STRM.Extensions)
	v.Set("strm.keepStructure", cfg.STRM.KeepStructure)
	v.Set("strm.urlEncode", cfg.STRM.URLEncode)
	v.Set("strm.pathMapping", cfg.STRM.PathMapping)

	v.Set("qos.qps", cfg.QoS.QPS)
	v.Set("qos.maxConcurrent", cfg.QoS.MaxConcurrent)
	v.Set("qos.threadingMode", string(cfg.QoS.ThreadingMode))
	v.Set("qos.threadPoolSize", cfg.QoS.ThreadPoolSize)

	v.Set("schedule.tickSeconds", cfg.Schedule.TickSeconds)
	v.Set("schedule.runOnStartup", cfg.Schedule.RunOnStartup)
	v.Set("schedule.historyLimit", cfg.Schedule.HistoryLimit)

	v.Set("emby.enabled", cfg.Emby.Enabled)
	v.Set("emby.host", cfg.Emby.Host)
	v.Set("emby.apiKey", cfg.Emby.APIKey)
	v.Set("emby.libraryId", cfg.Emby.LibraryID)

	if err := v.WriteConfigAs(c.configPath); err != nil {
		return fmt.Errorf("write config %s: %w", c.configPath, err)
	}
	return nil
}

func writeDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// getDefaultConfigDir follows XDG: a bare XDG_CONFIG_HOME (the Docker
// convention, e.g. /config) is used directly when it already holds a
// config file or is a mount point, otherwise the app subdirectory is used.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if _, err := os.Stat(filepath.Join(xdg, configFileName)); err == nil {
			return xdg
		}
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "openlist2strm")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "openlist2strm")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
