package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/api"
)

// newServeCmd creates the 'serve' subcommand: the HTTP worker that accepts
// ingestion jobs over the API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP worker accepting ingestion jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			apiCfg := api.Config{}
			if a.Cfg.Auth.Enabled {
				apiCfg.APIKey = a.Cfg.Auth.APIKey
			}
			server := api.NewServer(ctx, api.NewMemoryJobStore(), a.Runner(), a.Stats, apiCfg, a.Logger.Named("api"))

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				a.Logger.Info("http server started", zap.Int("port", a.Cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.Logger.Error("http server error", zap.Error(err))
					stop()
				}
			}()

			<-ctx.Done()
			a.Logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Error("server shutdown error", zap.Error(err))
			}
			server.Wait()
			a.Logger.Info("shutdown complete")
			return nil
		},
	}
}
