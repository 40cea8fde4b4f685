package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ams_backend/internal/chatclient"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type globalOpts struct {
	server  string
	token   string
	timeout time.Duration
}

func (o *globalOpts) client() (*chatclient.Client, error) {
	if o.token == "" {
		return nil, errors.New("no token: run `amsctl login` and export AMS_TOKEN, or pass --token")
	}
	return o.newClient(), nil
}

func (o *globalOpts) newClient() *chatclient.Client {
	return chatclient.NewClient(o.server, chatclient.WithToken(o.token))
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	cmd := &cobra.Command{
		Use:           "amsctl",
		Short:         "Classroom messaging from the terminal",
		Long:          "amsctl lists conversations, watches unread counts, sends messages and marks threads read against the AMS messaging API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("AMS_SERVER", "http://localhost:5000"), "API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("AMS_TOKEN"), "bearer token (defaults to $AMS_TOKEN)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newLoginCmd(opts))
	cmd.AddCommand(newConversationsCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newReadCmd(opts))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "amsctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
