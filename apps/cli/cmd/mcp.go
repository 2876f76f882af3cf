package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/turkkalori/fcm-registrar/apps/cli/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP (Model Context Protocol) server on stdio",
	Long: `Start an MCP server that exposes token registration as tools and
resources for LLM integration.

The server communicates via JSON-RPC over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, cleanup, err := setupRegistrar(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		s := mcpserver.New(reg, cfg.Endpoint, rootCmd.Version, logger)
		return s.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
