package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mediaforge/internal/ipc"
	"mediaforge/internal/logs"
)

const followWait = 2 * time.Second

// logSource returns the next batch of lines after offset.
type logSource func(ctx context.Context, req ipc.LogTailRequest) (*ipc.LogTailResponse, error)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines    int
		follow   bool
		contains string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, closeFn, err := ctx.logSource()
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			req := ipc.LogTailRequest{Offset: -1, Limit: lines, Contains: contains}
			for {
				resp, err := source(cmd.Context(), req)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return fmt.Errorf("tail logs: %w", err)
				}
				for _, line := range resp.Lines {
					fmt.Fprintln(out, line)
				}
				if !follow {
					return nil
				}
				req = ipc.LogTailRequest{
					Offset:     resp.Offset,
					Follow:     true,
					WaitMillis: int(followWait / time.Millisecond),
					Contains:   contains,
				}
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&contains, "grep", "", "Only show lines containing this text (for example a job id)")
	return cmd
}

// logSource reads through the daemon when it answers and from the log
// directory otherwise.
func (c *commandContext) logSource() (logSource, func(), error) {
	if client, err := ipc.Dial(c.socketPath()); err == nil {
		return client.LogTail, func() { _ = client.Close() }, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	path := filepath.Join(cfg.Paths.LogDir, logs.CurrentName)
	local := func(ctx context.Context, req ipc.LogTailRequest) (*ipc.LogTailResponse, error) {
		result, err := logs.Tail(ctx, path, logs.TailOptions{
			Offset:   req.Offset,
			Limit:    req.Limit,
			Follow:   req.Follow,
			Wait:     time.Duration(req.WaitMillis) * time.Millisecond,
			Contains: req.Contains,
		})
		if err != nil {
			return nil, err
		}
		return &ipc.LogTailResponse{Lines: result.Lines, Offset: result.Offset}, nil
	}
	return local, func() {}, nil
}
