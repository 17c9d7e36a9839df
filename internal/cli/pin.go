package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

func newPinCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <ref> <name>",
		Short: "Pin a checkpoint, excluding it from retention sweeps",
		Args:  cobra.ExactArgs(2),
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

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbPin, Ref: args[0], PinName: args[1]})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pinned %s as %q\n", args[0], args[1]) //nolint:errcheck
			return nil
		},
	}
}

func newUnpinCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <name>",
		Short: "Remove a pin",
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

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbUnpin, PinName: args[0]})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpinned %q\n", args[0]) //nolint:errcheck
			return nil
		},
	}
}
