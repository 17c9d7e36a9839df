package cli

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/rybkr/timelapse/internal/checkpoint"
)

// shortIDLen is how many hex characters of a checkpoint id table output
// shows, long enough to stay comfortably above ipc's minPrefixLen so a
// copy-pasted short id is still an unambiguous ref.
const shortIDLen = 10

func shortID(id checkpoint.ID) string {
	s := id.String()
	if len(s) <= shortIDLen {
		return s
	}
	return s[:shortIDLen]
}

func formatTime(unixMillis int64) string {
	return time.UnixMilli(unixMillis).Local().Format("2006-01-02 15:04:05")
}

// renderLog prints a table of checkpoints, newest first, for
// "timelapse log".
func renderLog(entries []checkpoint.Checkpoint) {
	data := pterm.TableData{{"ID", "TIME", "TRIGGER", "PINNED", "MESSAGE"}}
	for i := len(entries) - 1; i >= 0; i-- {
		cp := entries[i]
		pinned := ""
		if cp.Pinned {
			pinned = cp.PinName
		}
		data = append(data, []string{
			shortID(cp.ID),
			formatTime(cp.CreatedAt),
			cp.Trigger.String(),
			pinned,
			cp.Message,
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render() //nolint:errcheck
}

// renderInfo prints one checkpoint's full detail.
func renderInfo(cp checkpoint.Checkpoint) {
	pterm.DefaultBulletList.WithItems([]pterm.BulletListItem{
		{Level: 0, Text: fmt.Sprintf("id: %s", cp.ID)},
		{Level: 0, Text: fmt.Sprintf("parent: %s", cp.Parent)},
		{Level: 0, Text: fmt.Sprintf("root: %s", cp.Root)},
		{Level: 0, Text: fmt.Sprintf("created: %s", formatTime(cp.CreatedAt))},
		{Level: 0, Text: fmt.Sprintf("trigger: %s", cp.Trigger)},
		{Level: 0, Text: fmt.Sprintf("message: %s", cp.Message)},
		{Level: 0, Text: fmt.Sprintf("pinned: %v %s", cp.Pinned, cp.PinName)},
		{Level: 0, Text: fmt.Sprintf("paths touched: %d", cp.Stats.PathsTouched)},
		{Level: 0, Text: fmt.Sprintf("blobs written: %d", cp.Stats.BlobsWritten)},
		{Level: 0, Text: fmt.Sprintf("trees written: %d", cp.Stats.TreesWritten)},
		{Level: 0, Text: fmt.Sprintf("bytes written: %d", cp.Stats.BytesWritten)},
	}).Render() //nolint:errcheck
}
