package cli

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/easel/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the canvas API over HTTP",
		Long: `Serve exposes the canvas API as JSON over HTTP, with Prometheus metrics on
/metrics and a health check on /healthz. Requests identify their user with
the X-User-ID header.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			lis, err := net.Listen("tcp", a.v.GetString(cfgKeyAddr))
			if err != nil {
				return errors.Wrap(err, "listen")
			}
			return serve(ctx, lis, httpapi.NewRouter(s.svc, httpapi.Options{
				AllowedOrigins: a.v.GetStringSlice(cfgKeyAllowedOrigins),
				Ping:           s.store.Ping,
			}))
		},
	}
	cmd.Flags().String("addr", "", "listen address (default "+defaultAddr+")")
	cmd.Flags().StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if err := a.v.BindPFlag(cfgKeyAddr, cmd.Flags().Lookup("addr")); err != nil {
			return err
		}
		return a.v.BindPFlag(cfgKeyAllowedOrigins, cmd.Flags().Lookup("allowed-origins"))
	}
	return cmd
}

// serve runs an HTTP server on lis until ctx is done, then shuts it down.
func serve(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msg("serve: listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		log.Info().Msg("serve: shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
