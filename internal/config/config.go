// Package config loads, validates, and hot-reloads the gateway's configuration:
// platforms, models, routing (including smart-routing scenes), legacy passthrough
// servers, and small operator-tunable settings. A Manager owns exactly one
// immutable Config snapshot at a time, published with atomic.Value so request
// goroutines never observe a partially-applied reload.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultTimeoutSec     = 30
	DefaultLegacyTimeout  = 600
)

// PlatformType enumerates the upstream provider families the gateway can dispatch to.
type PlatformType string

const (
	PlatformDashScope       PlatformType = "dashscope"
	PlatformOpenRouter      PlatformType = "openrouter"
	PlatformOllama          PlatformType = "ollama"
	PlatformLMStudio        PlatformType = "lmstudio"
	PlatformSiliconFlow     PlatformType = "siliconflow"
	PlatformOpenAICompat    PlatformType = "openai_compatible"
)

// RoutingMode selects which of the three dispatch strategies the router uses.
type RoutingMode string

const (
	ModeClaudeCode    RoutingMode = "claude_code"
	ModeGlobalDirect  RoutingMode = "global_direct"
	ModeSmartRouting  RoutingMode = "smart_routing"
)

// Platform is one configured upstream account/endpoint.
type Platform struct {
	Type      PlatformType `json:"type" yaml:"type"`
	APIKey    string       `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL   string       `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled   bool         `json:"enabled" yaml:"enabled"`
	TimeoutSec int         `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
}

func (p Platform) Timeout() int {
	if p.TimeoutSec > 0 {
		return p.TimeoutSec
	}
	return DefaultTimeoutSec
}

// Model is one selectable model on a platform.
type Model struct {
	Platform    PlatformType `json:"platform" yaml:"platform"`
	ModelID     string       `json:"model_id" yaml:"model_id"`
	ModelName   string       `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	Enabled     bool         `json:"enabled" yaml:"enabled"`
	Priority    int          `json:"priority" yaml:"priority"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// Spec returns the canonical "<platform>:<model_id>" identifier for this model.
func (m Model) Spec() string {
	return fmt.Sprintf("%s:%s", m.Platform, m.ModelID)
}

// Scene is a named cluster of user intents with an ordered fallback list of models.
type Scene struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Models      []string `json:"models" yaml:"models"`
	Priority    int      `json:"priority" yaml:"priority"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
}

// RoutingConfig is the single active routing strategy.
type RoutingConfig struct {
	Mode           RoutingMode `json:"mode" yaml:"mode"`
	ModelPriority  []string    `json:"model_priority_list,omitempty" yaml:"model_priority_list,omitempty"`
	RoutingModels  []string    `json:"routing_models,omitempty" yaml:"routing_models,omitempty"`
	Scenes         []Scene     `json:"scenes,omitempty" yaml:"scenes,omitempty"`
}

// DefaultScene returns the scene that must exist and is used whenever
// classification fails or no routing model is available.
func (r RoutingConfig) DefaultScene() (Scene, bool) {
	for _, s := range r.Scenes {
		if s.Name == "default" {
			return s, true
		}
	}
	return Scene{}, false
}

// LegacyServer is a claude_code-mode passthrough target.
type LegacyServer struct {
	Name       string `json:"name" yaml:"name"`
	URL        string `json:"url" yaml:"url"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
	Priority   int    `json:"priority" yaml:"priority"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

func (l LegacyServer) Timeout() int {
	if l.TimeoutSec > 0 {
		return l.TimeoutSec
	}
	return DefaultLegacyTimeout
}

// SystemSetting is a generic operator-tunable key/value row not significant
// enough to warrant its own config section.
type SystemSetting struct {
	Key         string `json:"key" yaml:"key"`
	Value       string `json:"value" yaml:"value"`
	ValueType   string `json:"value_type,omitempty" yaml:"value_type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Config is one complete, immutable configuration snapshot.
type Config struct {
	Host          string         `json:"host,omitempty" yaml:"host,omitempty"`
	Port          int            `json:"port,omitempty" yaml:"port,omitempty"`
	DatabasePath  string         `json:"database_path,omitempty" yaml:"database_path,omitempty"`
	Platforms     []Platform     `json:"platforms" yaml:"platforms"`
	Models        []Model        `json:"models" yaml:"models"`
	Routing       RoutingConfig  `json:"routing" yaml:"routing"`
	LegacyServers []LegacyServer `json:"legacy_servers,omitempty" yaml:"legacy_servers,omitempty"`
	Settings      []SystemSetting `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// PlatformsByType indexes configured platforms for adapter lookup.
func (c *Config) PlatformsByType() map[PlatformType]Platform {
	out := make(map[PlatformType]Platform, len(c.Platforms))
	for _, p := range c.Platforms {
		out[p.Type] = p
	}
	return out
}

// ModelsFor returns enabled models for a platform, ordered by priority (lower wins).
func (c *Config) ModelsFor(platform PlatformType) []Model {
	var models []Model
	for _, m := range c.Models {
		if m.Platform == platform && m.Enabled {
			models = append(models, m)
		}
	}
	for i := 1; i < len(models); i++ {
		for j := i; j > 0 && models[j].Priority < models[j-1].Priority; j-- {
			models[j], models[j-1] = models[j-1], models[j]
		}
	}
	return models
}

// Manager owns the on-disk config and the currently published snapshot.
type Manager struct {
	baseDir  string
	jsonPath string
	yamlPath string
	current  atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

func (m *Manager) minimalConfig() Config {
	return Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Routing: RoutingConfig{
			Mode: ModeClaudeCode,
		},
	}
}

// Load reads the config file (YAML takes precedence over JSON), applies
// defaults, and publishes the result as the current snapshot.
func (m *Manager) Load() (*Config, error) {
	var (
		cfg Config
		err error
	)

	switch {
	case m.HasYAML():
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	case m.HasJSON():
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	default:
		if apiKey := os.Getenv("GATEWAY_API_KEY"); apiKey != "" {
			cfg = m.minimalConfig()
		} else {
			return nil, fmt.Errorf("no configuration file found (looked for %s or %s)", m.yamlPath, m.jsonPath)
		}
	}

	applyDefaults(&cfg)
	m.current.Store(&cfg)

	return &cfg, nil
}

func (m *Manager) loadYAML() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}

	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "gateway.db"
	}

	if cfg.Routing.Mode == "" {
		cfg.Routing.Mode = ModeClaudeCode
	}

	if _, ok := cfg.Routing.DefaultScene(); cfg.Routing.Mode == ModeSmartRouting && !ok {
		cfg.Routing.Scenes = append([]Scene{{
			Name:        "default",
			Description: "fallback scene used when classification fails",
			Priority:    0,
			Enabled:     true,
		}}, cfg.Routing.Scenes...)
	}
}

// Get returns the current snapshot, loading it from disk on first access.
func (m *Manager) Get() *Config {
	if v := m.current.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		fallback := m.minimalConfig()
		return &fallback
	}

	return cfg
}

// Watch starts a background fsnotify watcher on the active config file and
// reloads the published snapshot whenever it changes, so a running gateway
// picks up edited platform keys or routing rules without a restart.
func (m *Manager) Watch(logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("init config watcher: %w", err)
	}

	path := m.jsonPath
	if m.HasYAML() {
		path = m.yamlPath
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	go m.watchLoop(watcher, logger)

	return nil
}

func (m *Manager) watchLoop(watcher *fsnotify.Watcher, logger *slog.Logger) {
	defer watcher.Close()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if _, err := m.Load(); err != nil {
				logger.Error("reload config", "error", err)
				continue
			}

			logger.Info("configuration reloaded", "path", ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			logger.Error("config watcher error", "error", err)
		}
	}
}

// Save writes cfg as YAML (the preferred format for new saves) and publishes it.
func (m *Manager) Save(cfg *Config) error {
	return m.SaveAsYAML(cfg)
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}

	if err := os.WriteFile(m.yamlPath, data, 0o600); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}

	m.current.Store(cfg)

	return nil
}

func (m *Manager) SaveAsJSON(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}

	if err := os.WriteFile(m.jsonPath, data, 0o600); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}

	m.current.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string { return m.yamlPath }
func (m *Manager) GetJSONPath() string { return m.jsonPath }

func (m *Manager) Exists() bool {
	return m.HasYAML() || m.HasJSON()
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath)
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.jsonPath)
	return err == nil
}

// CreateExampleYAML writes a starter configuration covering every platform type.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DatabasePath: "gateway.db",
		Platforms: []Platform{
			{Type: PlatformDashScope, APIKey: "your-dashscope-api-key", Enabled: true},
			{Type: PlatformOpenRouter, APIKey: "your-openrouter-api-key", Enabled: true},
			{Type: PlatformOllama, BaseURL: "http://localhost:11434", Enabled: true},
			{Type: PlatformLMStudio, BaseURL: "http://localhost:1234", Enabled: false},
			{Type: PlatformSiliconFlow, APIKey: "your-siliconflow-api-key", Enabled: false},
			{Type: PlatformOpenAICompat, BaseURL: "https://your-endpoint/v1", APIKey: "your-api-key", Enabled: false},
		},
		Models: []Model{
			{Platform: PlatformOpenRouter, ModelID: "openai/gpt-4o-mini", Enabled: true, Priority: 1},
			{Platform: PlatformDashScope, ModelID: "qwen-max", Enabled: true, Priority: 2},
		},
		Routing: RoutingConfig{
			Mode:          ModeGlobalDirect,
			ModelPriority: []string{"openrouter:openai/gpt-4o-mini", "dashscope:qwen-max"},
		},
	}

	applyDefaults(cfg)

	return m.SaveAsYAML(cfg)
}
