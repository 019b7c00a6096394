package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmgateway/gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway's configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for a single platform's details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate example YAML configuration",
	Long:  `Generate an example YAML configuration file covering all six platform types.`,
	RunE:  runConfigGenerate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().BoolP("force", "f", false, "Overwrite existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Gateway Configuration Setup")
	color.Yellow("Follow the prompts to configure a platform and a default model.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nPlatform type (dashscope, openrouter, ollama, lmstudio, siliconflow, openai_compatible): ")

	platformType, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading platform type: %w", err)
	}

	platformType = strings.TrimSpace(platformType)

	fmt.Print("API Key (leave blank for local platforms): ")

	apiKey, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading API key: %w", err)
	}

	apiKey = strings.TrimSpace(apiKey)

	fmt.Print("Base URL (leave blank for hosted default): ")

	baseURL, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading base URL: %w", err)
	}

	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("Default model ID: ")

	modelID, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading model id: %w", err)
	}

	modelID = strings.TrimSpace(modelID)

	cfg := &config.Config{
		Host:         config.DefaultHost,
		Port:         config.DefaultPort,
		DatabasePath: "gateway.db",
		Platforms: []config.Platform{
			{Type: config.PlatformType(platformType), APIKey: apiKey, BaseURL: baseURL, Enabled: true},
		},
		Models: []config.Model{
			{Platform: config.PlatformType(platformType), ModelID: modelID, Enabled: true, Priority: 1},
		},
		Routing: config.RoutingConfig{
			Mode:          config.ModeGlobalDirect,
			ModelPriority: []string{fmt.Sprintf("%s:%s", platformType, modelID)},
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: gateway start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'gateway config init' or 'gateway config generate' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "Database", cfg.DatabasePath)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	configType := "JSON"
	if cfgMgr.HasYAML() {
		configType = "YAML"
	}

	fmt.Printf("  %-15s: %s\n", "Format", configType)

	fmt.Println("\nPlatforms:")

	for _, platform := range cfg.Platforms {
		fmt.Printf("  - Type: %s\n", platform.Type)
		fmt.Printf("    Enabled: %v\n", platform.Enabled)

		if platform.BaseURL != "" {
			fmt.Printf("    Base URL: %s\n", platform.BaseURL)
		}

		fmt.Printf("    API Key: %s\n", maskString(platform.APIKey))
		fmt.Println()
	}

	fmt.Println("Models:")

	for _, model := range cfg.Models {
		fmt.Printf("  - %s (priority %d, enabled %v)\n", model.Spec(), model.Priority, model.Enabled)
	}

	fmt.Println("\nRouting Configuration:")
	fmt.Printf("  %-15s: %s\n", "Mode", cfg.Routing.Mode)

	if len(cfg.Routing.ModelPriority) > 0 {
		fmt.Printf("  %-15s: %v\n", "Priority List", cfg.Routing.ModelPriority)
	}

	if len(cfg.Routing.Scenes) > 0 {
		fmt.Println("  Scenes:")

		for _, scene := range cfg.Routing.Scenes {
			fmt.Printf("    - %s: %v\n", scene.Name, scene.Models)
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var validationErrors []string

	if len(cfg.Platforms) == 0 {
		validationErrors = append(validationErrors, "no platforms configured")
	}

	for i, platform := range cfg.Platforms {
		if platform.Type == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("platform %d: type is required", i))
		}
	}

	switch cfg.Routing.Mode {
	case config.ModeGlobalDirect:
		if len(cfg.Routing.ModelPriority) == 0 {
			validationErrors = append(validationErrors, "global_direct routing requires a non-empty model_priority_list")
		}
	case config.ModeSmartRouting:
		if _, ok := cfg.Routing.DefaultScene(); !ok {
			validationErrors = append(validationErrors, `smart_routing requires a scene named "default"`)
		}

		if len(cfg.Routing.RoutingModels) == 0 {
			validationErrors = append(validationErrors, "smart_routing requires at least one routing model")
		}
	case config.ModeClaudeCode:
		if len(cfg.LegacyServers) == 0 {
			validationErrors = append(validationErrors, "claude_code mode requires at least one legacy server")
		}
	}

	if len(validationErrors) > 0 {
		color.Red("Configuration validation failed:")

		for _, err := range validationErrors {
			fmt.Printf("  - %s\n", err)
		}

		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if cfgMgr.Exists() && !force {
		configType := "JSON"
		if cfgMgr.HasYAML() {
			configType = "YAML"
		}

		color.Yellow("Configuration file already exists (%s format): %s", configType, cfgMgr.GetPath())
		color.Cyan("Use --force to overwrite, or 'gateway config show' to view current config")

		return nil
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example YAML configuration created: %s", cfgMgr.GetYAMLPath())
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit the configuration file to add your API keys")
	fmt.Println("2. Customize platform, model, and routing settings as needed")
	fmt.Println("3. Run 'gateway config validate' to check your configuration")
	fmt.Println("4. Start the gateway with 'gateway start'")

	color.Yellow("\nNote: The configuration includes all 6 supported platform types:")
	fmt.Println("- DashScope (Qwen models)")
	fmt.Println("- OpenRouter (access to multiple models)")
	fmt.Println("- Ollama (local models)")
	fmt.Println("- LM Studio (local models)")
	fmt.Println("- SiliconFlow (hosted open models)")
	fmt.Println("- OpenAI-compatible (generic fallback)")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
