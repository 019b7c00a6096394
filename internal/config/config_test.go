package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Host:         "127.0.0.1",
		Port:         8080,
		DatabasePath: "gateway.db",
		Platforms: []Platform{
			{Type: PlatformOpenRouter, APIKey: "test-provider-key", BaseURL: "https://openrouter.ai/api/v1", Enabled: true},
		},
		Models: []Model{
			{Platform: PlatformOpenRouter, ModelID: "anthropic/claude-3.5-sonnet", Enabled: true, Priority: 1},
		},
		Routing: RoutingConfig{
			Mode:          ModeGlobalDirect,
			ModelPriority: []string{"openrouter:anthropic/claude-3.5-sonnet"},
		},
	}

	require.NoError(t, manager.Save(cfg), "should be able to save config")
	assert.True(t, manager.Exists(), "config file should exist after saving")

	loadedCfg, err := manager.Load()
	require.NoError(t, err, "should be able to load config")

	assert.Equal(t, cfg.Host, loadedCfg.Host)
	assert.Equal(t, cfg.Port, loadedCfg.Port)
	assert.Equal(t, cfg.DatabasePath, loadedCfg.DatabasePath)

	require.Len(t, loadedCfg.Platforms, 1)
	platform := loadedCfg.Platforms[0]
	assert.Equal(t, PlatformOpenRouter, platform.Type)
	assert.Equal(t, "https://openrouter.ai/api/v1", platform.BaseURL)

	assert.Equal(t, ModeGlobalDirect, loadedCfg.Routing.Mode)
	assert.Equal(t, []string{"openrouter:anthropic/claude-3.5-sonnet"}, loadedCfg.Routing.ModelPriority)
}

func TestConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Platforms: []Platform{
			{Type: PlatformOpenAICompat, BaseURL: "http://example.com", APIKey: "key", Enabled: true},
		},
		Models: []Model{
			{Platform: PlatformOpenAICompat, ModelID: "model", Enabled: true, Priority: 1},
		},
		Routing: RoutingConfig{
			Mode:          ModeGlobalDirect,
			ModelPriority: []string{"openai_compatible:model"},
		},
	}

	require.NoError(t, manager.Save(cfg))

	loadedCfg, err := manager.Load()
	require.NoError(t, err, "should be able to load config")

	assert.Equal(t, DefaultPort, loadedCfg.Port, "should apply default port")
	assert.Equal(t, DefaultHost, loadedCfg.Host, "should apply default host")
	assert.Equal(t, "gateway.db", loadedCfg.DatabasePath, "should apply default database path")
}

func TestConfig_SmartRoutingGetsDefaultScene(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Routing: RoutingConfig{
			Mode:          ModeSmartRouting,
			RoutingModels: []string{"openrouter:openai/gpt-4o-mini"},
		},
	}

	require.NoError(t, manager.Save(cfg))

	loadedCfg, err := manager.Load()
	require.NoError(t, err)

	scene, ok := loadedCfg.Routing.DefaultScene()
	require.True(t, ok, "a default scene should be synthesized for smart_routing")
	assert.Equal(t, "default", scene.Name)
}

func TestConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, DefaultConfigFilename), []byte("not json"), 0o644))

	_, err := manager.Load()
	assert.Error(t, err, "should get error when loading invalid JSON")
}

func TestConfig_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	_, err := manager.Load()
	assert.Error(t, err, "should get error when loading non-existent file")
	assert.False(t, manager.Exists(), "non-existent config should not exist")
}

func TestConfig_MissingFileWithEnvAPIKeyFallsBackToMinimal(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	t.Setenv("GATEWAY_API_KEY", "env-provided-key")

	cfg, err := manager.Load()
	require.NoError(t, err, "should fall back to minimal config when GATEWAY_API_KEY is set")
	assert.Equal(t, ModeClaudeCode, cfg.Routing.Mode)
}

func TestConfig_WatchReloadsOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	require.NoError(t, manager.Save(&Config{Host: "127.0.0.1", Port: 1111}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	require.NoError(t, manager.Watch(logger))

	// Rewrite the file directly, as a separate process editing it on disk
	// would, bypassing manager.Save so the watcher is what picks up the
	// change rather than Save's own atomic.Value publish.
	require.NoError(t, os.WriteFile(manager.GetYAMLPath(), []byte("host: \"0.0.0.0\"\nport: 2222\n"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if manager.Get().Port == 2222 {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	assert.Equal(t, 2222, manager.Get().Port, "watcher should have reloaded the file changed on disk")
}

func TestConfig_GetWithoutLoad(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := manager.Get()
	assert.NotNil(t, cfg, "should not return nil config")
	assert.Equal(t, DefaultPort, cfg.Port, "should return default port")
	assert.Equal(t, DefaultHost, cfg.Host, "should return default host")
}
