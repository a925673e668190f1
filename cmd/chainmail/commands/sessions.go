package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chainmail/internal/domain"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			list, err := a.Messages.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TAG\tPEER\tSTATE\tUNREAD\tUPDATED\tSUBJECT")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					s.Tag, s.Peer, s.State, s.UnreadCount,
					time.UnixMilli(s.LastUpdate).Format(time.DateTime), s.Subject)
			}
			return tw.Flush()
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		from, to time.Duration
		markRead bool
	)
	cmd := &cobra.Command{
		Use:   "history <session-tag>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			tag := domain.SessionTag(args[0])
			now := time.Now()
			var lo, hi int64
			if from > 0 {
				lo = now.Add(-from).UnixMilli()
			}
			if to > 0 {
				hi = now.Add(-to).UnixMilli()
			}
			msgs, err := a.Messages.History(cmd.Context(), tag, lo, hi)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				who := "them"
				if m.IsFromSelf {
					who = "me"
				}
				fmt.Printf("%s %-4s %-6s %-10s %s\n",
					time.UnixMilli(m.Timestamp).Format(time.DateTime), who, m.Type, m.Status, m.Payload)
			}
			if markRead {
				return a.Messages.MarkRead(cmd.Context(), tag)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&from, "since", 0, "only messages newer than this age (e.g. 24h)")
	cmd.Flags().DurationVar(&to, "until", 0, "only messages older than this age")
	cmd.Flags().BoolVar(&markRead, "mark-read", true, "reset the unread counter")
	return cmd
}
