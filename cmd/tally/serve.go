package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/api"
	"github.com/Veraticus/tally/internal/certs"
	"github.com/Veraticus/tally/internal/config"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := cfg.Server
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				server.Addr = addr
			}
			if cmd.Flags().Changed("tls") {
				server.TLS, _ = cmd.Flags().GetBool("tls")
			}
			return withApp(cmd.Context(), func(a *app) error {
				return serve(cmd.Context(), a, server)
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed localhost certificate")
	return cmd
}

func serve(ctx context.Context, a *app, server config.Server) error {
	srv := &http.Server{
		Addr:              server.Addr,
		Handler:           api.New(a.review, a.taxonomy, a.cascade).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if server.TLS {
		tlsConfig, err := certs.NewStore(server.CertDir).TLSConfig()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", server.Addr, "tls", server.TLS)
		if server.TLS {
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	slog.Info("Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
