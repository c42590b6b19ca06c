package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/roundtable"
	"github.com/flemzord/roundtable/pkg/app"
)

func askCmd() *cobra.Command {
	var (
		backends []string
		project  string
		system   string
		timeout  time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Run one roundtable and print the ranked answers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := app.Open(ctx, runParams(cmd, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer rt.Close()

			req := roundtable.Request{
				Prompt:   strings.Join(args, " "),
				Backends: backends,
				Settings: roundtable.Settings{SystemPrompt: system},
			}
			if len(req.Backends) == 0 {
				req.Backends = rt.Registry.IDs()
			}
			if project != "" {
				snap, err := rt.Store.Snapshot(ctx, project)
				if err != nil {
					return err
				}
				asm := ctxengine.NewAssembler(rt.Engine).Assemble(snap.Items, req.Prompt, system)
				req.Settings.SystemPrompt = asm.SystemPrompt
			}

			strategy := rt.Config.Roundtable.Strategy
			if timeout > 0 {
				strategy.Timeout = timeout
			}

			exec, err := rt.Executor.Execute(ctx, req, strategy, nil)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(exec)
			}
			printExecution(cmd.OutOrStdout(), exec)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&backends, "backends", "b", nil, "Backend ids to ask (default: all configured)")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Inject this project's context into the system prompt")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-backend timeout (default: configured)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full execution as JSON")
	return cmd
}

func printExecution(w io.Writer, exec *roundtable.Execution) {
	for _, r := range exec.Ranked() {
		fmt.Fprintf(w, "#%d %s (quality %d, %s, %d tokens, $%.4f)",
			r.Meta.Rank, r.Backend, r.Meta.QualityScore, r.Meta.Latency.Round(time.Millisecond), r.Meta.Tokens, r.Meta.Cost)
		if r.Meta.FallbackFor != "" {
			fmt.Fprintf(w, " [fallback for %s]", r.Meta.FallbackFor)
		}
		fmt.Fprintf(w, "\n%s\n\n", strings.TrimSpace(r.Content))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "consensus\t%d%% (%s)\n", exec.Meta.Consensus.Level, exec.Meta.Consensus.Label)
	fmt.Fprintf(tw, "completed\t%d of %d\n", exec.Meta.Completed, len(exec.Backends))
	fmt.Fprintf(tw, "total cost\t$%.4f\n", exec.Meta.TotalCost)
	for _, g := range exec.Meta.DuplicateGroups {
		fmt.Fprintf(tw, "duplicates\t%s (%.0f%%)\n", strings.Join(g.Backends, ", "), g.Similarity*100)
	}
	for _, id := range exec.Backends {
		if msg, ok := exec.Errors[id]; ok {
			fmt.Fprintf(tw, "error\t%s: %s\n", id, msg)
		}
	}
	_ = tw.Flush()
}
