package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	registrar "github.com/turkkalori/fcm-registrar"
	"github.com/turkkalori/fcm-registrar/apps/cli/internal/config"
	"github.com/turkkalori/fcm-registrar/redisstore"
	"github.com/turkkalori/fcm-registrar/sqlstore"
)

var (
	sessionDir string
	configPath string
	endpoint   string
	verbose    bool
	useYAML    bool
)

func defaultSessionDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fcm-registrar")
}

var rootCmd = &cobra.Command{
	Use:   "fcm-registrar",
	Short: "Register FCM device tokens with a backend registry",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", defaultSessionDir(), "Directory holding the registration record and config.yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <session-dir>/config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Registry endpoint URL (overrides config and environment)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useYAML, "yaml", false, "Print output in YAML format")

	// Allow env override
	if envDir := os.Getenv(config.EnvPrefix + "_SESSION_DIR"); envDir != "" {
		sessionDir = envDir
	}
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(sessionDir, configPath)
	if err != nil {
		return config.Config{}, err
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	return cfg, nil
}

// openStore opens the configured record store. The returned func releases it.
var openStore = func(ctx context.Context, cfg config.Config) (registrar.Store, func() error, error) {
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
		store, err := sqlstore.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis %s: %w", opts.Addr, err)
		}
		return redisstore.New(client, cfg.Store.RedisNamespace), client.Close, nil
	default:
		return registrar.NewFileStore(sessionDir), func() error { return nil }, nil
	}
}

// setupRegistrar builds a Registrar from configuration. The returned func
// closes the registrar and then its store.
func setupRegistrar(ctx context.Context, cfg config.Config, opts ...registrar.Option) (*registrar.Registrar, func(), error) {
	url, err := cfg.RequireEndpoint()
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var clientOpts []registrar.ClientOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, registrar.WithAPIKey(cfg.APIKey))
	}
	base := []registrar.Option{
		registrar.WithStore(store),
		registrar.WithLogger(slog.Default()),
		registrar.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		registrar.WithAttemptTimeout(cfg.RequestTimeout),
		registrar.WithClientOptions(clientOpts...),
		registrar.WithRetryPolicy(cfg.Retry.Policy()),
	}
	reg := registrar.New(url, append(base, opts...)...)

	cleanup := func() {
		reg.Close()
		if err := closeStore(); err != nil {
			slog.Warn("Failed to close record store", "error", err)
		}
	}
	return reg, cleanup, nil
}
