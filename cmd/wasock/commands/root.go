package commands

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wasock/internal/app"
	"wasock/internal/logging"
)

var (
	home       string
	configPath string
	passphrase string
	wire       *app.Wire
	logger     zerolog.Logger
)

var errPassphraseRequired = errors.New("passphrase required (-p)")

func Execute() error {
	root := &cobra.Command{
		Use:           "wasock",
		Short:         "Web messaging session client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				home = app.DefaultHome()
			}
			if configPath == "" {
				configPath = app.DefaultConfigPath(home)
			}
			cfg, err := app.LoadConfig(configPath, app.DefaultConfig(home))
			if err != nil {
				return err
			}

			logCfg := logging.DefaultConfig(logging.ProfileRuntime)
			if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
				logCfg.Level = lvl
			}
			logging.ApplyEnv(&logCfg)
			logger = logging.Build("wasock", logCfg)

			wire, err = app.NewWire(cfg, logger)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default $WASOCK_HOME or ~/.wasock)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (default <home>/config.toml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the session")

	root.AddCommand(connectCmd(), infoCmd(), forgetCmd())
	return root.Execute()
}
