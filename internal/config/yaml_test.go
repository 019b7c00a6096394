package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_YAML_Support(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	yamlConfig := `
host: "0.0.0.0"
port: 8080
database_path: "gateway.db"
platforms:
  - type: "openrouter"
    api_key: "test-openrouter-key"
    enabled: true
  - type: "openai_compatible"
    base_url: "https://api.openai.com/v1"
    api_key: "test-openai-key"
    enabled: true
models:
  - platform: "openrouter"
    model_id: "anthropic/claude-3.5-sonnet"
    enabled: true
    priority: 1
routing:
  mode: "global_direct"
  model_priority_list: ["openrouter:anthropic/claude-3.5-sonnet"]
`

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlConfig), 0o644))

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)

	require.Len(t, cfg.Platforms, 2)
	assert.Equal(t, PlatformOpenRouter, cfg.Platforms[0].Type)
	assert.Equal(t, "test-openrouter-key", cfg.Platforms[0].APIKey)
	assert.Equal(t, PlatformOpenAICompat, cfg.Platforms[1].Type)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Platforms[1].BaseURL)

	assert.Equal(t, ModeGlobalDirect, cfg.Routing.Mode)
	assert.Equal(t, []string{"openrouter:anthropic/claude-3.5-sonnet"}, cfg.Routing.ModelPriority)
}

func TestManager_YAML_Takes_Precedence(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	jsonConfig := `{
		"host": "127.0.0.1",
		"port": 6970,
		"platforms": [{"type": "openai_compatible", "api_key": "json-key", "enabled": true}]
	}`

	yamlConfig := `
host: "0.0.0.0"
port: 8080
platforms:
  - type: "openrouter"
    api_key: "yaml-key"
    enabled: true
`

	jsonPath := filepath.Join(tempDir, DefaultConfigFilename)
	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)

	require.NoError(t, os.WriteFile(jsonPath, []byte(jsonConfig), 0o644))
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlConfig), 0o644))

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, PlatformOpenRouter, cfg.Platforms[0].Type)
	assert.Equal(t, "yaml-key", cfg.Platforms[0].APIKey)
}

func TestManager_SaveAsYAML(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	cfg := &Config{
		Host: "127.0.0.1",
		Port: 7000,
		Platforms: []Platform{
			{Type: PlatformOpenRouter, APIKey: "test-openrouter-key", Enabled: true},
		},
		Routing: RoutingConfig{
			Mode:          ModeGlobalDirect,
			ModelPriority: []string{"openrouter:anthropic/claude-3.5-sonnet"},
		},
	}

	require.NoError(t, mgr.SaveAsYAML(cfg))

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	assert.FileExists(t, yamlPath)

	loadedCfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, cfg.Host, loadedCfg.Host)
	assert.Equal(t, cfg.Port, loadedCfg.Port)
	assert.Equal(t, cfg.Platforms[0].Type, loadedCfg.Platforms[0].Type)
	assert.Equal(t, cfg.Platforms[0].APIKey, loadedCfg.Platforms[0].APIKey)
}

func TestManager_CreateExampleYAML(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	require.NoError(t, mgr.CreateExampleYAML())

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	assert.FileExists(t, yamlPath)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)

	require.Len(t, cfg.Platforms, 6)

	types := make([]PlatformType, len(cfg.Platforms))
	for i, p := range cfg.Platforms {
		types[i] = p.Type
	}

	assert.Contains(t, types, PlatformDashScope)
	assert.Contains(t, types, PlatformOpenRouter)
	assert.Contains(t, types, PlatformOllama)
	assert.Contains(t, types, PlatformLMStudio)
	assert.Contains(t, types, PlatformSiliconFlow)
	assert.Contains(t, types, PlatformOpenAICompat)

	assert.NotEmpty(t, cfg.Routing.ModelPriority)
}

func TestManager_FileDetection(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	assert.False(t, mgr.Exists())
	assert.False(t, mgr.HasYAML())
	assert.False(t, mgr.HasJSON())

	jsonPath := filepath.Join(tempDir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"host": "127.0.0.1"}`), 0o644))

	assert.True(t, mgr.Exists())
	assert.False(t, mgr.HasYAML())
	assert.True(t, mgr.HasJSON())
	assert.Equal(t, jsonPath, mgr.GetPath())

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	require.NoError(t, os.WriteFile(yamlPath, []byte(`host: "0.0.0.0"`), 0o644))

	assert.True(t, mgr.Exists())
	assert.True(t, mgr.HasYAML())
	assert.True(t, mgr.HasJSON())
	assert.Equal(t, yamlPath, mgr.GetPath())
}
