package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vramd/internal/httpapi"
	"vramd/internal/service"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr        string
		corsOrigins string
		swagger     bool
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP server",
		Example: "  vramd serve --config ~/.config/vramd/config.yaml\n  vramd serve --addr :9000 --cors-origins http://localhost:5173",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if origins := splitCSV(corsOrigins); len(origins) > 0 {
				cfg.CORS.Enabled = true
				cfg.CORS.Origins = origins
			}
			if cmd.Flags().Changed("swagger") {
				cfg.Swagger = swagger
			}
			log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			svc, err := service.New(cfg, service.Options{Logger: log})
			if err != nil {
				return err
			}

			httpapi.SetLogger(log)
			httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			httpapi.SetChatTimeout(cfg.Timeouts.Chat.Duration)
			httpapi.SetSwaggerEnabled(cfg.Swagger)
			httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins,
				[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
				[]string{"Content-Type", "X-Log-Level", "X-Request-Id"})

			baseCtx, cancelBase := context.WithCancel(context.Background())
			defer cancelBase()
			httpapi.SetBaseContext(baseCtx)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(svc),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("event", "listen").Str("addr", cfg.Addr).Msg("vramd listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			// Graceful shutdown (Ctrl+C / SIGTERM)
			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
				return nil
			case <-sigCtx.Done():
			}

			log.Info().Str("event", "shutdown").Msg("shutting down")
			svc.Close()
			cancelBase()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8090 (overrides config and VRAMD_ADDR)")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma separated CORS origins; enables CORS when set")
	cmd.Flags().BoolVar(&swagger, "swagger", false, "Serve the Swagger UI under /swagger/")
	return cmd
}
