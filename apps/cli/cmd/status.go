package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	registrar "github.com/turkkalori/fcm-registrar"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted registration record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		rec, loadErr := store.Load(ctx)
		if loadErr != nil && !errors.Is(loadErr, registrar.ErrNoRecord) {
			return loadErr
		}
		hasRecord := loadErr == nil

		out := cmd.OutOrStdout()
		if useYAML {
			status := map[string]any{
				"session_dir": sessionDir,
				"store":       cfg.Store.Backend,
				"endpoint":    cfg.Endpoint,
				"registered":  hasRecord && rec.Acknowledged(),
			}
			if hasRecord {
				status["record"] = recordView(rec)
			}
			yamlOut(out, status)
			return nil
		}

		fmt.Fprintf(out, "Session dir:     %s\n", sessionDir)
		fmt.Fprintf(out, "Store:           %s\n", cfg.Store.Backend)
		if cfg.Endpoint != "" {
			fmt.Fprintf(out, "Endpoint:        %s\n", cfg.Endpoint)
		} else {
			fmt.Fprintf(out, "Endpoint:        (not configured)\n")
		}
		if !hasRecord {
			fmt.Fprintf(out, "Record:          none\n")
			return nil
		}
		printRecord(out, rec)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
