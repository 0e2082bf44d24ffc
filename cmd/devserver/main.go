package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wasock/internal/devserver"
	"wasock/internal/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "devserver",
		Short:        "Development endpoint for wasock",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), scanCmd())
	return root
}

func serveCmd() *cobra.Command {
	var (
		addr string
		cfg  = devserver.DefaultConfig()
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New("devserver", logging.ProfileRuntime)
			srv := devserver.New(cfg, nil, logger)
			httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				srv.Close()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			logger.Info().Str("addr", addr).Msg("devserver listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&cfg.RefTTL, "ref-ttl", cfg.RefTTL, "ttl announced with each QR ref")
	cmd.Flags().IntVar(&cfg.MaxRefs, "max-refs", cfg.MaxRefs, "refs per connection before reref answers 429")
	cmd.Flags().IntVar(&cfg.LoginStatus, "login-status", 0, "force this login reply status")
	cmd.Flags().IntVar(&cfg.LoginTOS, "login-tos", 0, "tos value sent with a forced 403")
	cmd.Flags().BoolVar(&cfg.Challenge, "challenge", false, "challenge restored sessions")
	cmd.Flags().StringVar(&cfg.Wid, "wid", cfg.Wid, "account id reported in Conn")
	return cmd
}

func scanCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "scan <qr-payload>",
		Short: "Scan a QR payload as the phone would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := devserver.NewPhone(server, nil).Scan(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scanned.")
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "devserver base URL")
	return cmd
}
