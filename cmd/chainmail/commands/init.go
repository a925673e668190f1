package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"chainmail/internal/domain"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <address>",
		Short: "Generate identity keys and store them securely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			_, fp, err := wire.Identity.GenerateIdentity(domain.Address(args[0]), passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Identity created for %s.\nFingerprint: %s\n", args[0], fp)
			return nil
		},
	}
}
