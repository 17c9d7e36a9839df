package cli

import (
	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

func newLogCmd(flags *rootFlags) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List checkpoints, newest first",
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

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbLog, N: n})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}
			renderLog(resp.Log)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 0, "show only the last N checkpoints (0 means all)")
	return cmd
}
