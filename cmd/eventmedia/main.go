package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the main Cobra command for the eventmedia CLI.
var rootCmd = &cobra.Command{
	Use:   "eventmedia",
	Short: "Bulk media uploader for event galleries",
	Long: `eventmedia uploads batches of photos and videos to an event gallery.

Files are validated, deduplicated against the gallery by content hash,
converted out of proprietary formats, and transferred with bounded
concurrency. Uploads land as hidden drafts; nothing is visible to other
attendees until an explicit publish.

Examples:
  eventmedia upload --event evt-42 --user usr-7 --files a.jpg --files b.mp4
  eventmedia upload --event evt-42 --user usr-7 --publish   # pick files in a dialog
  eventmedia publish --event evt-42 --user usr-7`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
