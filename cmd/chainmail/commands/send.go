package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"chainmail/internal/domain"
	"chainmail/internal/services/message"
)

// send <peer> <message>: encrypt and publish a message for <peer>.
func sendCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			msg, err := a.Messages.SendMessage(cmd.Context(), domain.Address(args[0]), []byte(args[1]),
				domain.MessageNormal, message.WithSubject(subject))
			if err != nil {
				return err
			}
			fmt.Printf("%s %s session=%s ref=%s\n", msg.Type, msg.ID, msg.SessionTag, msg.TransportRef)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject of a new conversation")
	return cmd
}

func closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <peer>",
		Short: "Close the open conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			if err := a.Messages.CloseSession(cmd.Context(), domain.Address(args[0])); err != nil {
				return err
			}
			fmt.Println("closed")
			return nil
		},
	}
}
