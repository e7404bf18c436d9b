package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"assistd/internal/manager"
)

// smokeMessage exercises the prompt template end to end.
const smokeMessage = "today i was walking, not at the side but at the middle of the road, and a car honked at me. I got verry upset and angry, like who does he think he is to honk at me ??? who is wrong here ?"

func newTryCmd(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "try [message]",
		Short: "Load the model once and print one reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			log := buildLogger(cfg, d.stderr)
			ctx := cmd.Context()
			mgr := newManager(ctx, d, cfg, nil, log)
			defer mgr.Close()

			if err := mgr.Load(ctx); err != nil {
				return err
			}
			pl, _ := mgr.Placement()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model loaded successfully on: %s (%s)\n", pl.Device, pl.Precision)

			msg := smokeMessage
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				msg = args[0]
			}
			res, err := mgr.Complete(ctx, msg, manager.DefaultGenerationConfig())
			if err != nil {
				return err
			}
			rule := strings.Repeat("=", 50)
			fmt.Fprintf(out, "%s\nRESPONSE:\n%s\n%s\n", rule, res.Decoded, rule)
			fmt.Fprintf(out, "reply: %s\n", res.Response)
			fmt.Fprintf(out, "tokens: prompt=%d new=%d in %s\n", res.PromptTokens, res.NewTokens, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	return cmd
}
