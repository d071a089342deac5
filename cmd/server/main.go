package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"social-feed/server/internal/auth"
	"social-feed/server/internal/config"
	"social-feed/server/internal/logging"
	"social-feed/server/internal/media"
	"social-feed/server/internal/storage"
)

var (
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Social feed API server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		built, err := logging.New(loaded.Logging.Level, loaded.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg, logger = loaded, built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupMediaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore opens and migrates the database named in the config.
func openStore(ctx context.Context) (*storage.SQLiteStore, error) {
	store, err := storage.OpenSQLite(cfg.Server.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func openMedia(store media.Store) (*media.Library, error) {
	return media.New(cfg.Media.Dir, cfg.Media.URLPrefix, store, media.Limits{
		MaxImage:     cfg.Media.MaxImage.Int64(),
		MaxVideo:     cfg.Media.MaxVideo.Int64(),
		MaxAvatar:    cfg.Media.MaxAvatar.Int64(),
		OrphanMaxAge: cfg.Media.OrphanMaxAge.Duration(),
	}, logger.Named("media"))
}

func authConfig() auth.Config {
	oidc := cfg.Auth.OIDC
	return auth.Config{
		IssuerURL:    oidc.IssuerURL,
		ClientID:     oidc.ClientID,
		ClientSecret: oidc.ClientSecret,
		RedirectURL:  oidc.RedirectURL,
		SessionKey:   cfg.Auth.SessionKey,
		SessionTTL:   cfg.Auth.SessionTTL.Duration(),
		CookieSecure: cfg.Auth.CookieSecure,
	}
}
