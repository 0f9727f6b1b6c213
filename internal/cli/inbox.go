package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"skill-barter/messaging/internal/chat"
	"skill-barter/messaging/internal/models"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(inboxCmd)
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cred, err := current.credential()
		if err != nil {
			return err
		}
		client := current.historyClient(cred)
		defer client.Close()

		ctx, cancel := current.withTimeout(cmd.Context())
		defer cancel()

		rows := chat.NewAggregator(client, current.log).List(ctx)
		printInbox(cmd.OutOrStdout(), rows)
		return nil
	},
}

func printInbox(w io.Writer, rows []models.ConversationSummary) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTNER\tID\tLAST ACTIVITY\tLATEST")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.PartnerUsername, r.PartnerID, when(r.SortKey()), preview(r.LatestMessage, 48))
	}
	tw.Flush()
}

func when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
