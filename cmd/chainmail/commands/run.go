package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chainmail/internal/domain"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Stay online: receive messages, confirm deliveries, rotate pre-keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			a.Messages.OnNewMessage(func(s domain.Session, m domain.Message) {
				if m.IsFromSelf {
					return
				}
				fmt.Printf("[%s] %s (%s): %s\n",
					time.UnixMilli(m.Timestamp).Format(time.DateTime), s.Peer, m.Type, m.Payload)
			})
			a.Messages.OnMessageStatus(func(m domain.Message) {
				fmt.Printf("message %s %s\n", m.ID, m.Status)
			})
			a.Messages.OnSessionUpdated(func(s domain.Session) {
				if s.IsClosed {
					fmt.Printf("session %s with %s closed\n", s.Tag, s.Peer)
				}
			})
			fmt.Printf("%s online, Ctrl-C to stop\n", a.Self.Address)
			return a.Run(cmd.Context())
		},
	}
}
