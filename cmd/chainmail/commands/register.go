package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"chainmail/internal/services/prekey"
)

func registerCmd() *cobra.Command {
	var interval uint8
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Announce your identity key and publish a pre-key package",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			id, err := wire.Identity.Register(cmd.Context(), wire.Directory, passphrase)
			if err != nil {
				return err
			}
			a, err := open()
			if err != nil {
				return err
			}
			pkg, err := a.PreKeys.Publish(cmd.Context(), id.Address, interval)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s with %d pre-keys (last resort %d).\n", id.Address, len(pkg.PreKeys), pkg.LastResortID)
			return nil
		},
	}
	cmd.Flags().Uint8Var(&interval, "interval", prekey.DefaultInterval, "days back a sender may reach")
	return cmd
}
