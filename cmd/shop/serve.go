package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fjod/go_shop/internal/config"
	h "github.com/fjod/go_shop/internal/http"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				cfg.HTTPPort = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogger(cfg)
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringP("port", "p", "", "HTTP port (overrides HTTP_PORT)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var archiver h.CallbackArchiver
	if a.archive != nil {
		archiver = a.archive
	}

	handlers := h.Handlers{
		Checkout: h.NewCheckoutHandler(a.checkout, cfg.RequestTimeout),
		Payments: h.NewPaymentsHandler(a.engine, a.store, archiver, cfg.RequestTimeout),
		Orders:   h.NewOrdersHandler(a.store, a.engine, a.receipts, cfg.RequestTimeout),
	}
	router := h.NewRouter(h.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		CallbackRateLimit:  cfg.CallbackRateLimit,
	}, handlers)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("shop API starting", "port", cfg.HTTPPort, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("server exited")
	return nil
}
