package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

func newFlushCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush [paths...]",
		Short: "Force an immediate checkpoint, bypassing the debounce window",
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

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbFlush, Paths: args})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}
			if resp.Checkpoint == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no changes to checkpoint") //nolint:errcheck
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpointed %s\n", shortID(resp.Checkpoint.ID)) //nolint:errcheck
			return nil
		},
	}
}
