package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	registrar "github.com/turkkalori/fcm-registrar"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Finish a registration left pending by an earlier run",
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

		ack, err := reg.Resume(ctx)
		if errors.Is(err, registrar.ErrNoRecord) {
			fmt.Fprintln(cmd.ErrOrStderr(), "No registration record to resume.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("resume failed: %w", err)
		}
		printAck(cmd.OutOrStdout(), ack, useYAML)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
