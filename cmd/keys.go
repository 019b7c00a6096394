package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmgateway/gateway/internal/store"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage gateway API keys",
	Long:  `Issue API keys admitted by the gateway's per-key token budget.`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Issue a new API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysCreate,
}

func init() {
	keysCmd.AddCommand(keysCreateCmd)
	keysCreateCmd.Flags().Int64P("max-tokens", "m", 0, "token budget for this key (0 = unlimited)")
	keysCreateCmd.Flags().DurationP("ttl", "t", 0, "key lifetime (0 = never expires)")
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	cfg := cfgMgr.Get()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	maxTokens, _ := cmd.Flags().GetInt64("max-tokens")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().UTC().Add(ttl)
		expiresAt = &t
	}

	key, err := st.CreateKey(context.Background(), args[0], maxTokens, expiresAt)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	color.Green("Created API key %q", key.Name)
	fmt.Printf("  %-12s: %s\n", "Key", key.APIKey)
	fmt.Printf("  %-12s: %d\n", "Max tokens", key.MaxTokens)

	if key.ExpiresAt != nil {
		fmt.Printf("  %-12s: %s\n", "Expires", key.ExpiresAt.Format(time.RFC3339))
	}

	return nil
}
