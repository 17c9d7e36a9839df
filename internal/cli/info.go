package cli

import (
	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

func newInfoCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <ref>",
		Short: "Show one checkpoint's full detail",
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

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbInfo, Ref: args[0]})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}
			renderInfo(*resp.Info)
			return nil
		},
	}
}
