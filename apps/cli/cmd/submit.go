package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <token>",
	Short: "Register a device token and wait for the registry to acknowledge it",
	Long: `Persist the token and report it to the registry, retrying transient
failures with exponential backoff. Interrupting leaves the record pending;
run 'fcm-registrar resume' to continue.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, cleanup, err := setupRegistrar(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ack, err := reg.Submit(ctx, args[0])
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		printAck(cmd.OutOrStdout(), ack, useYAML)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
}
