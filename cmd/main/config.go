package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CTAG07/Sundew/pkg/analytics"
	"github.com/CTAG07/Sundew/pkg/rendering"
	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	SiteAddr       string `json:"site_addr"`
	ApiAddr        string `json:"api_addr"`
	LogLevel       string `json:"log_level"`
	DataDir        string `json:"data_dir"`
	DatabasePath   string `json:"database_path"`
	ContainerClass string `json:"container_class"`
}

// AnalyticsConfig holds the tracker settings plus the process level options
// that are not part of analytics.Config.
type AnalyticsConfig struct {
	analytics.Config

	Namespace         string `json:"namespace"`
	StatePath         string `json:"state_path"`
	DeliveryTimeoutMs int    `json:"delivery_timeout_ms"`
	SinkAPIKey        string `json:"sink_api_key"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig              `json:"server_config"`
	Rendering *rendering.Config          `json:"rendering_config"`
	Templates *templating.TemplateConfig `json:"template_config"`
	Analytics *AnalyticsConfig           `json:"analytics_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		SiteAddr:       ":7377",
		ApiAddr:        ":7378",
		LogLevel:       "info",
		DataDir:        "./data",
		DatabasePath:   "./data/sundew.db",
		ContainerClass: "sundew-search",
	}
}

// DefaultRenderingConfig returns the engine defaults.
func DefaultRenderingConfig() *rendering.Config {
	cfg := rendering.DefaultConfig()
	return &cfg
}

// DefaultAnalyticsConfig enables tracking into the server database.
// An empty sink locator means the server's own database.
func DefaultAnalyticsConfig() *AnalyticsConfig {
	return &AnalyticsConfig{
		Config: analytics.Config{
			Source:   "sundew",
			Enabled:  true,
			SinkName: "search_analytics",
		},
		Namespace:         analytics.DefaultNamespace,
		StatePath:         "./data/analytics_state.json",
		DeliveryTimeoutMs: int(analytics.DefaultDeliveryTimeout / time.Millisecond),
	}
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Rendering: DefaultRenderingConfig(),
		Templates: templating.DefaultConfig(),
		Analytics: DefaultAnalyticsConfig(),
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if dir := filepath.Dir(path); dir != "." {
				_ = os.MkdirAll(dir, 0755)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.fillDefaults()
	return config, nil
}

// fillDefaults replaces sections missing from a partial config file.
func (c *Config) fillDefaults() {
	if c.Server == nil {
		c.Server = DefaultServerConfig()
	}
	if c.Rendering == nil {
		c.Rendering = DefaultRenderingConfig()
	}
	if c.Templates == nil {
		c.Templates = templating.DefaultConfig()
	}
	if c.Analytics == nil {
		c.Analytics = DefaultAnalyticsConfig()
	}
}

// Validate reports configuration errors that would make a render or
// analytics setup fail later.
func (c *Config) Validate() error {
	if c.Server == nil || c.Rendering == nil || c.Templates == nil || c.Analytics == nil {
		return fmt.Errorf("all configuration sections are required")
	}
	if c.Rendering.TemplateIDPrefix == "" {
		return fmt.Errorf("rendering_config.template_id_prefix must not be empty")
	}
	if c.Analytics.SinkName != "" && !analytics.ValidSinkName(c.Analytics.SinkName) && c.Analytics.SinkLocator == "" {
		return fmt.Errorf("analytics_config.sink_name %q is not a valid table name", c.Analytics.SinkName)
	}
	return nil
}

// parseLogLevel maps the config string to a slog level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigManager handles thread-safe access to the configuration and pushes
// updates to the live components that can apply them without a restart.
type ConfigManager struct {
	config      *Config
	configPath  string
	logger      *slog.Logger
	tm          *templating.TemplateManager
	onAnalytics func(*AnalyticsConfig)
	mu          sync.RWMutex
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}, nil
}

// SetTemplateManager registers the template manager to receive config updates.
func (cm *ConfigManager) SetTemplateManager(tm *templating.TemplateManager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
	if tm != nil {
		tm.SetConfig(cm.config.Templates)
	}
}

// OnAnalyticsUpdate registers fn to receive analytics config updates.
func (cm *ConfigManager) OnAnalyticsUpdate(fn func(*AnalyticsConfig)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onAnalytics = fn
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.logger = logger
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates and applies the configuration, then saves it to disk.
// Template settings are applied first and rolled back if the template set
// no longer loads. Rendering and server settings take effect on restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	newConfig.fillDefaults()
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.mu.Lock()
	if err := cm.apply(newConfig); err != nil {
		cm.mu.Unlock()
		return err
	}
	onAnalytics, analyticsCfg := cm.onAnalytics, *cm.config.Analytics
	cm.mu.Unlock()

	// Listeners may read the config back, so they run unlocked.
	if onAnalytics != nil {
		onAnalytics(&analyticsCfg)
	}
	cm.logger.Info("Configuration updated")
	return nil
}

// apply swaps in newConfig. The caller holds cm.mu.
func (cm *ConfigManager) apply(newConfig Config) error {
	if cm.tm != nil {
		oldTmplConfig := cm.config.Templates
		cm.tm.SetConfig(newConfig.Templates)
		if err := cm.tm.Refresh(); err != nil {
			cm.tm.SetConfig(oldTmplConfig)
			_ = cm.tm.Refresh()
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}

	data, err := json.MarshalIndent(&newConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig
	return nil
}
