package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwave/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

func NewServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run listeners, the websocket endpoints and the REST api",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt := NewRuntime(conf)
			defer rt.Close()
			if err := rt.Start(ctx); err != nil {
				return err
			}
			return rt.Serve(ctx)
		},
	}
}

// Serve runs the change listeners, the optional in-process reconciler and
// the HTTP server until ctx is done.
func (rt *Runtime) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              rt.conf.HTTP.Addr,
		Handler:           rt.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// a failed listener stays visible in /healthz, the server keeps running
		if err := rt.Supervisor.Run(gctx); err != nil {
			logger.Error("change listener gave up", zap.Error(err))
		}
		return nil
	})
	if every := rt.conf.Presence.ReconcileEvery; every > 0 {
		g.Go(func() error {
			rt.Reconciler.Every(gctx, every)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// hijacked websocket conns are not tracked by Shutdown
		rt.Live.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
