package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"assistd/internal/config"
	"assistd/pkg/client"
)

func newAskCmd(d deps) *cobra.Command {
	var (
		url     string
		check   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message to a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lvl, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			log := buildLogger(config.Config{LogLevel: lvl, LogFormat: format}, d.stderr)
			c := client.New(url, client.WithLogger(log))
			out := cmd.OutOrStdout()
			if check {
				if !c.Available(ctx) {
					return fmt.Errorf("assistant at %s is not reachable", url)
				}
				fmt.Fprintln(out, "available")
				return nil
			}
			if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
				return errors.New("message is required")
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			fmt.Fprintln(out, c.ReplyOrFallback(ctx, args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8000", "Base URL of the assistant server")
	cmd.Flags().BoolVar(&check, "check", false, "Only report whether the server is reachable")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
	return cmd
}
