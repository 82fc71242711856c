package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/colorfulnotion/tct/ledger"
	log "github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/server"
	"github.com/spf13/cobra"
)

func newServeCmd(s *settings) *cobra.Command {
	var (
		addr     string
		writable bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer witness queries over WebSocket until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return s.withLedger(ctx, func(l *ledger.Ledger) error {
				var opts []server.Option
				if writable {
					opts = append(opts, server.WithWrites())
				}
				ws := server.New(ctx, l, opts...)
				defer ws.Close()

				mux := http.NewServeMux()
				mux.Handle("/ws", ws)
				srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

				errCh := make(chan error, 1)
				go func() {
					log.Info(log.CLIMonitoring, "serving", "addr", addr, "root", l.Root())
					errCh <- srv.ListenAndServe()
				}()
				select {
				case err := <-errCh:
					if !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				case <-ctx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8546", "listen address")
	cmd.Flags().BoolVar(&writable, "writable", false, "accept insert, forget and end-block/end-epoch requests")
	return cmd
}
