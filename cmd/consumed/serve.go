package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xxz807/finscale/consume/internal/consume/service"
	"github.com/xxz807/finscale/consume/internal/platform/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the compensation sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// 后台补偿
			sweeper := service.NewSweeper(a.ledger, a.cfg.Compensation.SweepInterval, a.logger)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			// 初始化 Server (Gateway)
			srv := server.NewServer(a.logger, a.cfg.Server.Port, a.cfg.Server.Mode, a.registry, a.handler)

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					a.logger.Error("Server startup failed", zap.Error(err))
					return err
				}
			case <-ctx.Done():
				a.logger.Info("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
