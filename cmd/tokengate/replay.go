package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/tokengate/core"
	"github.com/yourusername/tokengate/pkg/tokengate"
)

// Summary counts the decisions of a replay
type Summary struct {
	Total   int64
	Allowed int64
	Denied  int64
}

func replayCmd(flags *globalFlags) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "replay [FILE]",
		Short: "Run identifiers, one per line, through an admission controller",
		Long: "Reads identifiers from FILE (or stdin) and admits each of them concurrently.\n" +
			"Blank lines are skipped; everything else is used verbatim.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(cmd.InOrStdin())
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			rt, err := setup(cmd.Context(), flags)
			if err != nil {
				return err
			}

			return rt.run(cmd.Context(), func(ctx context.Context) error {
				sum, err := replay(ctx, rt.ctrl, in, workers)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "total=%d allowed=%d denied=%d buckets=%d\n",
					sum.Total, sum.Allowed, sum.Denied, rt.ctrl.Len())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent admission workers")
	return cmd
}

// replay admits every non-blank line of in using workers goroutines.
func replay(ctx context.Context, adm tokengate.Admitter, in io.Reader, workers int) (Summary, error) {
	if workers <= 0 {
		workers = 1
	}

	var total, allowed, denied atomic.Int64
	ids := make(chan string, workers*4)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ids)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case ids <- line:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return scanner.Err()
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for id := range ids {
				total.Add(1)
				if adm.Admit(id) == core.Allowed {
					allowed.Add(1)
				} else {
					denied.Add(1)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return Summary{
		Total:   total.Load(),
		Allowed: allowed.Load(),
		Denied:  denied.Load(),
	}, err
}
