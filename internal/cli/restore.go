package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

func newRestoreCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <ref>",
		Short: "Rewrite the working tree to match a checkpoint, then re-checkpoint",
		Args:  cobra.ExactArgs(1),
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

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbRestore, Ref: args[0]})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}
			if resp.Checkpoint == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "restored to %s, no changes to checkpoint\n", args[0]) //nolint:errcheck
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored to %s, re-checkpointed as %s\n", args[0], shortID(resp.Checkpoint.ID)) //nolint:errcheck
			return nil
		},
	}
}
