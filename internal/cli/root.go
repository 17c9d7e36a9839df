// Package cli implements the timelapse client binary's cobra command tree:
// status/log/info/flush/restore/diff/pin/unpin/gc/publish/push/pull, each a
// thin wrapper that dials the daemon's ipc socket, sends one Request, and
// renders the Response. Apart from init, which creates a new repository
// in-process, no command touches the repository's on-disk state directly.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/ipc"
	"github.com/rybkr/timelapse/internal/repo"
	"github.com/rybkr/timelapse/internal/termcolor"
)

// rootFlags holds the persistent flags every subcommand reads.
type rootFlags struct {
	root      string
	colorMode string
}

// NewRootCmd builds the "timelapse" command tree.
func NewRootCmd(version string) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "timelapse",
		Short:         "Talk to the timelapse checkpoint daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.root, "root", "", "repository root (default: current directory, or its nearest .timelapse ancestor)")
	root.PersistentFlags().StringVar(&flags.colorMode, "color", "auto", "color output: auto, always, never")

	root.AddCommand(
		newInitCmd(flags),
		newStatusCmd(flags),
		newLogCmd(flags),
		newInfoCmd(flags),
		newFlushCmd(flags),
		newRestoreCmd(flags),
		newDiffCmd(flags),
		newPinCmd(flags),
		newUnpinCmd(flags),
		newGCCmd(flags),
		newPublishCmd(flags),
		newPushCmd(flags),
		newPullCmd(flags),
		newHelpTopicCmd(),
	)
	return root
}

// cw builds the color writer for stdout given the resolved --color flag.
func (f *rootFlags) cw() (*termcolor.Writer, error) {
	mode, err := termcolor.ParseColorMode(f.colorMode)
	if err != nil {
		return nil, err
	}
	return termcolor.NewWriter(os.Stdout, mode), nil
}

// dial locates the repository rooted at f.root (or the nearest ancestor
// carrying a .timelapse directory, walking up from the current directory
// the way git locates .git) and connects to its daemon socket.
func (f *rootFlags) dial() (*ipc.Client, *repo.Repository, error) {
	root := f.root
	var err error
	if root == "" {
		root, err = discoverRoot()
		if err != nil {
			return nil, nil, err
		}
	}
	r, err := repo.Open(root)
	if err != nil {
		return nil, nil, err
	}
	client, err := ipc.Dial(r.SocketPath())
	if err != nil {
		return nil, nil, err
	}
	return client, r, nil
}

// discoverRoot walks upward from the current directory looking for a
// .timelapse engine directory, the same upward-search cobra's own git
// integrations (and git itself) use to find a repository root from any
// working subdirectory.
func discoverRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", errkind.Wrap(errkind.IoError, err, "cli: getwd")
	}
	for {
		if _, statErr := os.Stat(filepath.Join(dir, repo.EngineDirName)); statErr == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errkind.New(errkind.NotInitialized, "cli: no "+repo.EngineDirName+" found in "+dir+" or any parent; run 'timelapse init' first")
		}
		dir = parent
	}
}

// printError writes err to stderr and returns the error so the caller can
// propagate a non-zero exit status to cobra. "Did you mean" suggestions
// attached by the daemon are printed by printResponseError.
func printError(cw *termcolor.Writer, err error) error {
	fmt.Fprintln(os.Stderr, cw.Red("error:"), err) //nolint:errcheck // CLI stderr
	return err
}

func printResponseError(cw *termcolor.Writer, resp ipc.Response) error {
	fmt.Fprintln(os.Stderr, cw.Red("error:"), resp.Error) //nolint:errcheck // CLI stderr
	if len(resp.Suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "did you mean one of: %s?\n", cw.Yellow(joinComma(resp.Suggestions))) //nolint:errcheck
	}
	return errkind.New(errkind.NotFound, resp.Error)
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
