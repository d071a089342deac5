package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"social-feed/server/internal/auth"
	"social-feed/server/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the media cleanup schedule",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	library, err := openMedia(store)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager(authConfig(), func(ctx context.Context, subject string, preferredUsername string) (string, error) {
		user, err := store.UserBySubject(ctx, subject, preferredUsername)
		if err != nil {
			return "", err
		}
		return user.ID, nil
	})
	if err != nil {
		return err
	}
	if cfg.Auth.SessionKey == "" {
		logger.Warn("no session key configured; sessions will not survive a restart")
	}
	if cfg.Server.DevUser != "" {
		logger.Warn("dev user enabled; every request without a session is authenticated", zap.String("user_id", cfg.Server.DevUser))
	}

	api, err := httpapi.NewServer(httpapi.Options{
		Store:         store,
		Auth:          manager,
		Media:         library,
		Logger:        logger.Named("http"),
		CronSecret:    cfg.Auth.CronSecret,
		DevUser:       cfg.Server.DevUser,
		MutationRPS:   cfg.Limits.MutationRPS,
		MutationBurst: cfg.Limits.MutationBurst,
		Registerer:    prometheus.DefaultRegisterer,
		Gatherer:      prometheus.DefaultGatherer,
	})
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Media.CleanupCron != "" {
		group.Go(func() error {
			library.RunSchedule(ctx, cfg.Media.CleanupCron, cfg.Media.CleanupTimeout.Duration())
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
