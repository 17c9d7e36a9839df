package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

func newGCCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run a retention sweep immediately",
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

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbGC})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}
			g := resp.GC
			fmt.Fprintf(cmd.OutOrStdout(), "live: %d  reachable: %d  swept: %d  skipped: %d\n",
				g.Live, g.Reachable, g.Swept, g.SweptSkipped)
			return nil
		},
	}
}
