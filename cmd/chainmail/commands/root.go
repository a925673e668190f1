package commands

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"chainmail/internal/app"
	"chainmail/internal/logger"
)

var (
	cfg        *app.Config
	wire       *app.Wire
	log        *logger.Logger
	passphrase string

	homeFlag  string
	relayFlag string
)

func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "chainmail",
		Short:         "End-to-end encrypted messaging over a public ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = app.LoadConfig()
			if cmd.Flags().Changed("home") {
				cfg.Home = homeFlag
			}
			if cmd.Flags().Changed("relay") {
				cfg.RelayURL = relayFlag
			}
			if passphrase == "" {
				passphrase = os.Getenv("CHAINMAIL_PASSPHRASE")
			}
			if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
				return err
			}
			log = logger.New(cfg.LogMode)

			w, err := app.NewWire(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			wire = w
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if wire != nil {
				wire.Close()
			}
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&homeFlag, "home", "", "state dir (default $CHAINMAIL_HOME or ~/.chainmail)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity (or $CHAINMAIL_PASSPHRASE)")
	root.PersistentFlags().StringVar(&relayFlag, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		sendCmd(),
		closeCmd(),
		runCmd(),
		sessionsCmd(),
		historyCmd(),
	)
	return root.ExecuteContext(ctx)
}

func requirePassphrase() error {
	if passphrase == "" {
		return errors.New("passphrase required (-p)")
	}
	return nil
}

// open unlocks the identity and builds the messaging services.
func open() (*app.App, error) {
	if err := requirePassphrase(); err != nil {
		return nil, err
	}
	return wire.Open(passphrase)
}
