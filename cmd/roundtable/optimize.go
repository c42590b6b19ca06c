package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flemzord/roundtable/pkg/app"
)

func optimizeCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "optimize [project...]",
		Short: "Reduce stored project context to the ideal threshold",
		Long: "Optimize runs the context engine over the named projects, or over every\n" +
			"stored project when none is given, and persists the result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := app.Open(ctx, runParams(cmd, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer rt.Close()

			projects := args
			if len(projects) == 0 {
				if projects, err = rt.Store.Projects(ctx); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			ideal := rt.Engine.Config().IdealTokens
			for _, project := range projects {
				before, err := rt.Store.Snapshot(ctx, project)
				if err != nil {
					return err
				}
				if dryRun {
					res, err := rt.Engine.OptimizeScored(ctx, before.Items, ideal)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: %s\n", project, res.Summary)
					continue
				}
				if err := rt.Optimizer.Optimize(ctx, project); err != nil {
					return fmt.Errorf("%s: %w", project, err)
				}
				after, err := rt.Store.Snapshot(ctx, project)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d -> %d tokens (ideal %d)\n", project, before.Total, after.Total, ideal)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without persisting")
	return cmd
}
