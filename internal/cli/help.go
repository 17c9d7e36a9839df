package cli

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
)

// helpTopics holds the longer-form conceptual documentation that doesn't
// fit a single command's --help text, written in Markdown and rendered to
// the terminal at "timelapse help-topic <topic>" time.
var helpTopics = map[string]string{
	"refs": `# Checkpoint references

A ref is anything that names a single checkpoint:

- ` + "`HEAD`" + `, the most recent checkpoint
- ` + "`HEAD~3`" + `, three ancestors back, following ` + "`Parent`" + ` links
- a pin name, set with ` + "`timelapse pin`" + `
- a full 32-character hex checkpoint id
- any unambiguous hex prefix of at least 4 characters

An ambiguous or unknown prefix returns an error with up to three
**did you mean** suggestions, ranked by fuzzy match against every known
pin name and checkpoint id.
`,
	"retention": `# Retention

The daemon runs a mark-and-sweep retention pass on a timer, and on demand
via ` + "`timelapse gc`" + `. The live set is the newest
` + "`retention.keep_count`" + ` checkpoints, any checkpoint younger than
` + "`retention.keep_duration`" + `, plus anything pinned. Objects
reachable from the live set's trees are kept; everything else in the
object store is swept.
`,
	"publish": `# Publishing

` + "`timelapse publish`" + ` materializes checkpoints as commits in a
bare shadow Git repository under the engine directory, oldest to newest.
` + "`timelapse push`" + ` and ` + "`timelapse pull`" + ` move that shadow
history to and from a real Git remote, so the append-only journal stays
the source of truth while still handing you ordinary Git history to share.
`,
}

func newHelpTopicCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "help-topic <topic>",
		Short:     "Show longer-form documentation on a concept (refs, retention, publish)",
		Hidden:    true,
		Args:      cobra.ExactArgs(1),
		ValidArgs: topicNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, ok := helpTopics[args[0]]
			if !ok {
				return fmt.Errorf("no help topic %q; available: %s", args[0], strings.Join(topicNames(), ", "))
			}
			rendered, err := renderMarkdown(topic)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendered) //nolint:errcheck
			return nil
		},
	}
}

func topicNames() []string {
	names := make([]string, 0, len(helpTopics))
	for name := range helpTopics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	h1Re   = regexp.MustCompile(`(?s)<h1>(.*?)</h1>`)
	h2Re   = regexp.MustCompile(`(?s)<h2>(.*?)</h2>`)
	strong = regexp.MustCompile(`(?s)<strong>(.*?)</strong>`)
	code   = regexp.MustCompile(`(?s)<code>(.*?)</code>`)
	liRe   = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	tagRe  = regexp.MustCompile(`<[^>]+>`)
)

// renderMarkdown converts Markdown to HTML with goldmark, then reduces
// that HTML to ANSI-styled plain text for terminal display: headings and
// bold spans bold, inline code cyan, list items bulleted, everything else
// stripped of its surrounding tags.
func renderMarkdown(source string) (string, error) {
	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(source), &htmlBuf); err != nil {
		return "", fmt.Errorf("cli: render help: %w", err)
	}

	html := htmlBuf.String()
	html = h1Re.ReplaceAllString(html, "\033[1m$1\033[0m\n")
	html = h2Re.ReplaceAllString(html, "\033[1m$1\033[0m\n")
	html = strong.ReplaceAllString(html, "\033[1m$1\033[0m")
	html = code.ReplaceAllString(html, "\033[36m$1\033[0m")
	html = liRe.ReplaceAllString(html, "  • $1\n")
	text := tagRe.ReplaceAllString(html, "")
	return strings.TrimSpace(text), nil
}
