package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rybkr/timelapse/internal/ipc"
)

func newPublishCmd(flags *rootFlags) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "publish [ref]",
		Short: "Materialize checkpoints as commits in the shadow Git repository",
		Long: "Materialize every checkpoint from --from (exclusive of history before it, " +
			"defaulting to the first checkpoint) through [ref] (defaulting to HEAD) as commits " +
			"in the publish bridge's shadow repository, oldest first.",
		Args: cobra.MaximumNArgs(1),
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

			ref := "HEAD"
			if len(args) == 1 {
				ref = args[0]
			}
			resp, err := client.Call(ipc.Request{Verb: ipc.VerbPublish, Ref: from, RefB: ref})
			if err != nil {
				return printError(cw, err)
			}
			if !resp.OK {
				return printResponseError(cw, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published through commit %s\n", resp.CommitID) //nolint:errcheck
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "oldest checkpoint to publish (default: the first checkpoint ever recorded)")
	return cmd
}

func newPushCmd(flags *rootFlags) *cobra.Command {
	var remote, url string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push the shadow repository to a remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteVerb(cmd, flags, ipc.VerbPush, remote, url, "pushed")
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "remote name (default: the repository's configured publish.default_remote)")
	cmd.Flags().StringVar(&url, "url", "", "remote URL, used only if the named remote isn't already configured")
	return cmd
}

func newPullCmd(flags *rootFlags) *cobra.Command {
	var remote, url string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch the shadow repository from a remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteVerb(cmd, flags, ipc.VerbPull, remote, url, "pulled")
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "remote name (default: the repository's configured publish.default_remote)")
	cmd.Flags().StringVar(&url, "url", "", "remote URL, used only if the named remote isn't already configured")
	return cmd
}

func runRemoteVerb(cmd *cobra.Command, flags *rootFlags, verb ipc.Verb, remote, url, verbedPast string) error {
	cw, err := flags.cw()
	if err != nil {
		return err
	}
	client, _, err := flags.dial()
	if err != nil {
		return printError(cw, err)
	}
	defer client.Close() //nolint:errcheck

	resp, err := client.Call(ipc.Request{Verb: verb, Remote: remote, RemoteURL: url})
	if err != nil {
		return printError(cw, err)
	}
	if !resp.OK {
		return printResponseError(cw, resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", verbedPast) //nolint:errcheck
	return nil
}
