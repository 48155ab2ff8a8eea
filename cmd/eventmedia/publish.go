package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gatherly/event-media-uploader/internal/boot"
	"github.com/gatherly/event-media-uploader/internal/logging"
)

var (
	publishEventFlag string
	publishUserFlag  string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish your draft uploads for an event",
	Long: `Publish promotes every draft you have uploaded to the event so other
attendees can see it. Running it again with nothing left in draft is a
no-op.`,
	Run: runPublish,
}

func init() {
	publishCmd.Flags().StringVarP(&publishEventFlag, "event", "e", "", "Event ID (required)")
	publishCmd.Flags().StringVarP(&publishUserFlag, "user", "u", "", "User ID whose drafts to publish (required)")
	publishCmd.MarkFlagRequired("event")
	publishCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) {
	logging.Init()
	initStart := time.Now()
	ctx := context.Background()

	aws := boot.InitAWS(ctx)
	records := boot.InitRecordStore(aws.Config)

	boot.StartupLog("eventmedia-publish", initStart).
		Config("event", publishEventFlag).
		Config("user", publishUserFlag).
		Emit()

	n, err := records.PublishDrafts(ctx, publishEventFlag, publishUserFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Publish failed")
	}
	if n == 0 {
		fmt.Println("Nothing to publish.")
		return
	}
	fmt.Printf("Published %d item(s).\n", n)
}
