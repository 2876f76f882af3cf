package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/turkkalori/fcm-registrar/apps/cli/internal/devregistry"
)

var serveRegistryCmd = &cobra.Command{
	Use:   "serve-registry",
	Short: "Run a local token registry for development",
	Long: `Run a development registry that accepts POST /tokens and stores tokens in
SQLite. --fail scripts error responses for the first requests, e.g.
--fail 503,503 to watch the registrar retry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dbPath, _ := cmd.Flags().GetString("db")
		failList, _ := cmd.Flags().GetString("fail")
		apiKey, _ := cmd.Flags().GetString("api-key")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr == "" {
			addr = cfg.Registry.Addr
		}
		if dbPath == "" {
			dbPath = cfg.Registry.DBPath
		}
		if apiKey == "" {
			apiKey = cfg.Registry.APIKey
		}
		failures, err := devregistry.ParseFailures(failList)
		if err != nil {
			return fmt.Errorf("--fail: %w", err)
		}

		if !verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("creating registry directory: %w", err)
		}

		opts := []devregistry.Option{
			devregistry.WithLogger(slog.Default()),
			devregistry.WithFailures(failures...),
		}
		if apiKey != "" {
			opts = append(opts, devregistry.WithAPIKey(apiKey))
		}
		server, err := devregistry.Open(dbPath, opts...)
		if err != nil {
			return err
		}
		defer server.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Fprintf(cmd.ErrOrStderr(), "Registry listening on http://%s/tokens (db %s). Press Ctrl+C to stop.\n", addr, dbPath)
		if err := server.Run(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveRegistryCmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:8089)")
	serveRegistryCmd.Flags().String("db", "", "SQLite database path (default <session-dir>/registry.db)")
	serveRegistryCmd.Flags().String("fail", "", "Comma-separated HTTP statuses for the first requests, e.g. 503,503")
	serveRegistryCmd.Flags().String("api-key", "", "Require this bearer token on registrations")
	rootCmd.AddCommand(serveRegistryCmd)
}
