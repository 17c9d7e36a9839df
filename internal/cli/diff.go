package cli

import (
	"github.com/clipperhouse/uax29/v2/graphemes"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

// maxDiffPathWidth bounds how much of a path "timelapse diff" prints before
// eliding its start, long enough that most repo-relative paths never hit
// it.
const maxDiffPathWidth = 72

func newDiffCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <ref-a> <ref-b>",
		Short: "List paths that changed between two checkpoints",
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

			resp, err := client.Call(ipc.Request{Verb: ipc.VerbDiff, Ref: args[0], RefB: args[1]})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}

			data := pterm.TableData{{"CHANGE", "PATH"}}
			for _, d := range resp.Diff {
				data = append(data, []string{d.Change, truncatePath(d.Path, maxDiffPathWidth)})
			}
			pterm.DefaultTable.WithHasHeader().WithData(data).Render() //nolint:errcheck
			return nil
		},
	}
}

// truncatePath elides the start of a path that exceeds max grapheme
// clusters, so multi-codepoint characters (combining marks, emoji) never
// get split mid-cluster the way a byte or rune slice would.
func truncatePath(path string, max int) string {
	if max <= 1 {
		return path
	}
	var clusters []string
	seg := graphemes.FromString(path)
	for seg.Next() {
		clusters = append(clusters, seg.Value())
	}
	if len(clusters) <= max {
		return path
	}
	tail := clusters[len(clusters)-(max-1):]
	out := "…"
	for _, c := range tail {
		out += c
	}
	return out
}
