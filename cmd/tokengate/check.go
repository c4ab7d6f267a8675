package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func checkCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check ID...",
		Short: "Admit each ID in order and print the decision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), flags)
			if err != nil {
				return err
			}

			return rt.run(cmd.Context(), func(ctx context.Context) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					if err := ctx.Err(); err != nil {
						return err
					}
					res, err := rt.ctrl.Check(id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\t%s\tremaining=%d/%d", id, res.Decision, res.Remaining, res.Limit)
					if !res.Allowed() {
						fmt.Fprintf(out, "\tretry_after=%s", res.RetryAfter)
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}
