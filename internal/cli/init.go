package cli

import (
	"fmt"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/repo"
)

// newInitCmd creates a new repository directly on disk — the one command
// that runs entirely in-process rather than through the daemon's ipc
// socket, since there is no daemon to dial until a repository exists for
// one to watch.
func newInitCmd(flags *rootFlags) *cobra.Command {
	var algoName string
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a new repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cw, err := flags.cw()
			if err != nil {
				return err
			}
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			algo, err := objhash.ParseAlgo(algoName)
			if err != nil {
				return printError(cw, err)
			}

			spinner, _ := pterm.DefaultSpinner.Start("creating engine directory")
			r, err := repo.Init(root, algo)
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success("initialized")

			if absRoot, absErr := filepath.Abs(root); absErr == nil {
				root = absRoot
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized repository at %s (%s)\n", root, r.Algo())     //nolint:errcheck
			fmt.Fprintf(cmd.OutOrStdout(), "run 'timelapsed --root %s' to start watching it\n", root) //nolint:errcheck
			return nil
		},
	}
	cmd.Flags().StringVar(&algoName, "hash-algo", "sha1", "content hash algorithm: sha1 or blake3")
	return cmd
}
