package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	registrar "github.com/turkkalori/fcm-registrar"
	"github.com/turkkalori/fcm-registrar/apps/cli/internal/config"
	"github.com/turkkalori/fcm-registrar/apps/cli/internal/pushcheck"
)

var newPushSender = func(ctx context.Context, cfg config.Config) (pushcheck.Sender, error) {
	return pushcheck.NewMessagingClient(ctx, cfg.Firebase.CredentialsFile, cfg.Firebase.ProjectID)
}

var pushTestCmd = &cobra.Command{
	Use:   "push-test [token]",
	Short: "Send a test push to a token through the Firebase Admin SDK",
	Long: `Send a test notification. Without an argument the token from the
registration record is used. Credentials come from firebase.credentials_file,
FCM_REGISTRAR_FIREBASE_CREDENTIALS_FILE or application default credentials.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		body, _ := cmd.Flags().GetString("body")
		data, _ := cmd.Flags().GetStringToString("data")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			token, err = recordedToken(ctx, cfg)
			if err != nil {
				return err
			}
		}

		return sendTestPush(ctx, cfg, token, pushcheck.Push{Title: title, Body: body, Data: data}, cmd.OutOrStdout())
	},
}

func init() {
	pushTestCmd.Flags().String("title", "fcm-registrar", "Notification title")
	pushTestCmd.Flags().String("body", "Test push", "Notification body")
	pushTestCmd.Flags().StringToString("data", nil, "Data payload as key=value pairs")
	rootCmd.AddCommand(pushTestCmd)
}

// recordedToken returns the token from the persisted registration record.
func recordedToken(ctx context.Context, cfg config.Config) (string, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeStore()

	rec, err := store.Load(ctx)
	if errors.Is(err, registrar.ErrNoRecord) {
		return "", fmt.Errorf("no registration record; pass a token or run 'fcm-registrar submit' first")
	}
	if err != nil {
		return "", err
	}
	if !rec.Acknowledged() {
		slog.Warn("Token is not acknowledged by the registry yet", "state", rec.State)
	}
	return rec.Token, nil
}

func sendTestPush(ctx context.Context, cfg config.Config, token string, p pushcheck.Push, out io.Writer) error {
	sender, err := newPushSender(ctx, cfg)
	if err != nil {
		return err
	}
	id, err := pushcheck.New(sender, pushcheck.WithLogger(slog.Default())).Send(ctx, token, p)
	if err != nil {
		return err
	}
	if useYAML {
		yamlOut(out, map[string]string{"message": id, "token": registrar.TokenPrefix(token)})
	} else {
		fmt.Fprintf(out, "Test push sent: %s\n", id)
	}
	return nil
}
