package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"skill-barter/messaging/internal/chat"
	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/internal/realtime"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tradeCmd, dmCmd)
}

var tradeCmd = &cobra.Command{
	Use:   "trade <request-id>",
	Short: "Open the negotiation thread of a trade request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return converse(cmd, models.ByRequest(id))
	},
}

var dmCmd = &cobra.Command{
	Use:   "dm <user-id>",
	Short: "Open a direct conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return converse(cmd, models.WithPartner(id))
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

const helpText = `Type a message and press enter to send it.
  /retry       resend the last failed message
  /reconnect   reopen the realtime channel and reload history
  /quit        leave`

// converse runs an interactive session: stdin lines are sent, updates are
// printed as messages appear or change state.
func converse(cmd *cobra.Command, scope models.Scope) error {
	cred, err := current.credential()
	if err != nil {
		return err
	}
	client := current.historyClient(cred)
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv, err := chat.Open(ctx, chat.Deps{
		Credential: cred,
		History:    client,
		Open: chat.RealtimeOpener(realtime.ConfigFrom(current.cfg),
			realtime.WithLogger(current.log),
			realtime.WithMetrics(current.metrics),
		),
		Config:  current.cfg,
		Logger:  current.log,
		Metrics: current.metrics,
	}, scope)
	if err != nil {
		return err
	}
	defer conv.Close()

	self, _ := cred.Subject()
	out := cmd.OutOrStdout()
	view := newTranscript(out, self)

	fmt.Fprintf(out, "Conversation %s\n%s\n", scope, helpText)

	lines := readLines(cmd.InOrStdin())
	var draft chat.Draft
	for {
		select {
		case <-ctx.Done():
			return nil

		case u, ok := <-conv.Updates():
			if !ok {
				return nil
			}
			view.render(u)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				return nil
			case "/reconnect":
				if err := conv.Reconnect(ctx); err != nil {
					fmt.Fprintf(out, "! %v\n", err)
				}
			case "/retry":
				failed, ok := lastFailed(conv.Messages())
				if !ok {
					fmt.Fprintln(out, "! nothing to retry")
					continue
				}
				if _, err := conv.Retry(ctx, failed.LocalID); err != nil {
					fmt.Fprintf(out, "! %v\n", err)
				}
			default:
				draft.Set(line)
				if _, err := draft.Submit(ctx, conv); err != nil {
					fmt.Fprintf(out, "! %v\n", err)
				}
			}
		}
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

func lastFailed(msgs []models.Message) (models.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Failed && msgs[i].LocalID != "" {
			return msgs[i], true
		}
	}
	return models.Message{}, false
}

// transcript prints each message once per visible state.
type transcript struct {
	w      io.Writer
	self   int64
	shown  map[string]string
	notice string
}

func newTranscript(w io.Writer, self int64) *transcript {
	return &transcript{w: w, self: self, shown: make(map[string]string)}
}

func (t *transcript) render(u chat.Update) {
	for _, m := range u.Messages {
		id := m.Key()
		if m.LocalID != "" {
			id = m.LocalID
		}
		state := messageState(m)
		if t.shown[id] == state {
			continue
		}
		t.shown[id] = state
		fmt.Fprintln(t.w, t.line(m, state))
	}

	if u.Notice == nil {
		t.notice = ""
		return
	}
	if u.Notice.Message != t.notice {
		t.notice = u.Notice.Message
		fmt.Fprintf(t.w, "! %s (%s)\n", u.Notice.Message, u.Notice.Code)
	}
}

func (t *transcript) line(m models.Message, state string) string {
	who := fmt.Sprintf("#%d", m.SenderID)
	if m.SenderID == t.self {
		who = "you"
	}
	stamp := "--:--"
	if !m.SentAt.IsZero() {
		stamp = m.SentAt.Local().Format("15:04")
	}
	if state == "" {
		return fmt.Sprintf("%s %s: %s", stamp, who, m.Body)
	}
	return fmt.Sprintf("%s %s: %s [%s]", stamp, who, m.Body, state)
}

func messageState(m models.Message) string {
	switch {
	case m.Failed:
		return "failed: " + m.FailReason
	case m.Pending:
		return "sending"
	default:
		return ""
	}
}
