package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ams_backend/internal/chatclient"
	"ams_backend/internal/domain"
)

func newLoginCmd(opts *globalOpts) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange email and password for a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("AMS_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or $AMS_PASSWORD) are required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			res, err := opts.newClient().Login(ctx, email, password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# logged in as %s (%s)\n", res.User.Name, res.User.Role)
			fmt.Fprintf(out, "export AMS_TOKEN=%s\n", res.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func newConversationsCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations with unread counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			list, err := c.Conversations(ctx)
			if err != nil {
				return err
			}
			formatConversations(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func newWatchCmd(opts *globalOpts) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the conversation list and redraw on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := chatclient.NewPoller(c, chatclient.NewState(), chatclient.PollerOptions{
				Interval: interval,
				OnUpdate: redraw(cmd.OutOrStdout()),
			})
			err = p.Run(ctx)
			p.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", chatclient.DefaultPollInterval, "poll interval")
	return cmd
}

func newSendCmd(opts *globalOpts) *cobra.Command {
	var (
		to        string
		group     bool
		broadcast bool
	)
	cmd := &cobra.Command{
		Use:   "send [flags] <message>",
		Short: "Send a direct, group or broadcast message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			res, err := c.Send(ctx, chatclient.SendRequest{
				ReceiverID:  to,
				Body:        strings.Join(args, " "),
				IsBroadcast: broadcast,
				IsGroupChat: group,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s message to %d recipient(s)\n", res.Kind, res.Recipients)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "receiver user id for a direct message")
	cmd.Flags().BoolVar(&group, "group", false, "post to the group channel")
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "announce to every student (teachers only)")
	return cmd
}

func newReadCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "read <counterpart-id|group>",
		Short: "Mark a conversation read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			n, err := c.MarkRead(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d message(s) read\n", n)
			return nil
		},
	}
}

const clearScreen = "\033[2J\033[H"

// redraw repaints the conversation table. Overlapping poll ticks may call it
// concurrently.
func redraw(out io.Writer) func([]domain.ConversationSummary) {
	var mu sync.Mutex
	return func(list []domain.ConversationSummary) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(out, clearScreen)
		formatConversations(out, list)
	}
}

func formatConversations(w io.Writer, list []domain.ConversationSummary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUNREAD\tLAST\tMESSAGE")
	total := 0
	for _, c := range list {
		total += c.UnreadCount
		unread := "-"
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", c.UnreadCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.CounterpartID,
			c.DisplayName,
			unread,
			c.LastMessageAt.Local().Format("Jan 02 15:04"),
			preview(c.LastMessageBody, 50),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d conversation(s), %d unread\n", len(list), total)
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
