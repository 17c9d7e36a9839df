package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's liveness and current HEAD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cw, err := flags.cw()
			if err != nil {
				return err
			}
			client, _, err := flags.dial()
			if err != nil {
				return printError(cw, err)
			}
			defer client.Close() //nolint:errcheck

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbStatus})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}

			s := resp.Status
			fmt.Fprintf(cmd.OutOrStdout(), "running: %v\nhead: %s\ncheckpoints: %d\ndeferred paths: %d\n",
				s.Running, s.HeadID, s.CheckpointCount, s.DeferredPaths)
			return nil
		},
	}
}
