package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmgateway/gateway/internal/process"
	"github.com/llmgateway/gateway/internal/server"
	"github.com/llmgateway/gateway/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway service",
	Long:  `Start the LLM gateway service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"platforms", len(cfg.Platforms),
		"routing_mode", cfg.Routing.Mode,
	)

	if err := cfgMgr.Watch(logger); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, st, logger)

	return srv.Start()
}
