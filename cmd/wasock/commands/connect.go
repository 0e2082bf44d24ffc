package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wasock/internal/domain"
	"wasock/internal/events"
	"wasock/internal/metrics"
	"wasock/internal/services/session"
)

func connectCmd() *cobra.Command {
	var (
		metricsAddr string
		once        bool
		backoff     = session.DefaultBackoff()
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Pair or restore the session and stay connected",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return errPassphraseRequired
			}
			sess, err := loadOrCreate()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			out := cmd.OutOrStdout()
			onReady := func(c *session.Client, cfg domain.SessionConfig) error {
				if err := wire.Identity.SaveSessionConfig(passphrase, cfg); err != nil {
					return fmt.Errorf("save session: %w", err)
				}
				if conn, ok, _ := wire.Conns.LatestConn(); ok {
					fmt.Fprintf(out, "Connected as %s.\n", conn.Wid)
				} else {
					fmt.Fprintln(out, "Connected.")
				}
				return nil
			}

			if once {
				c := newClient(sess, out)
				defer c.Close()
				cfg, err := c.Connect(ctx)
				if err != nil {
					return err
				}
				return onReady(c, cfg)
			}

			sup := &session.Supervisor{
				NewClient: func(s domain.SessionConfig) *session.Client { return newClient(s, out) },
				OnReady:   onReady,
				Backoff:   backoff,
				Logger:    logger,
			}
			err = sup.Run(ctx, sess)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&once, "once", false, "connect once and exit instead of staying connected")
	cmd.Flags().DurationVar(&backoff.InitialDelay, "backoff-initial", backoff.InitialDelay, "first reconnect delay")
	cmd.Flags().DurationVar(&backoff.MaxDelay, "backoff-max", backoff.MaxDelay, "reconnect delay cap")
	return cmd
}

// loadOrCreate returns the stored session, creating and saving a new one on
// first use.
func loadOrCreate() (domain.SessionConfig, error) {
	sess, ok, err := wire.Identity.LoadSessionConfig(passphrase)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	if ok {
		return sess, nil
	}
	sess, err = wire.Identity.NewSessionConfig()
	if err != nil {
		return domain.SessionConfig{}, err
	}
	if err := wire.Identity.SaveSessionConfig(passphrase, sess); err != nil {
		return domain.SessionConfig{}, err
	}
	logger.Info().Str("fingerprint", wire.Identity.Fingerprint(sess).String()).Msg("new session created")
	return sess, nil
}

func newClient(sess domain.SessionConfig, out io.Writer) *session.Client {
	c := wire.NewClient(sess)
	c.AddEventHandler(func(evt any) {
		switch e := evt.(type) {
		case events.QRCode:
			fmt.Fprintf(out, "Scan this code with your phone:\n%s\n", e.Payload)
		case events.Replaced:
			fmt.Fprintln(out, "Session was taken over by another client.")
		case events.KeepAliveTimeout:
			logger.Warn().Err(e.Err).Msg("keep-alive timeout")
		}
	})
	return c
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
