package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gatherly/event-media-uploader/internal/batch"
	"github.com/gatherly/event-media-uploader/internal/boot"
	"github.com/gatherly/event-media-uploader/internal/logging"
)

// CLI flags
var (
	eventFlag       string
	userFlag        string
	filesFlag       []string
	captionFlag     string
	concurrencyFlag int

	// publishAfterFlag is the upload command's --publish switch, kept
	// apart from the publish subcommand's own flags.
	publishAfterFlag bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a batch of media files to an event gallery",
	Long: `Upload validates, deduplicates, converts, and transfers the given files,
then waits for the batch to finish. Uploaded files are drafts; pass
--publish to make them visible once the batch completes, or run the
publish subcommand later.

With no --files flags a file picker dialog opens.`,
	Run: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&eventFlag, "event", "e", "", "Event ID to upload into (required)")
	uploadCmd.Flags().StringVarP(&userFlag, "user", "u", "", "Uploading user ID (required)")
	uploadCmd.Flags().StringArrayVarP(&filesFlag, "files", "f", nil, "Media file to upload (repeatable)")
	uploadCmd.Flags().StringVar(&captionFlag, "caption", "", "Caption applied to every file in the batch")
	uploadCmd.Flags().IntVar(&concurrencyFlag, "concurrency", batch.DefaultConcurrency, "Simultaneous transfers")
	uploadCmd.Flags().BoolVar(&publishAfterFlag, "publish", false, "Publish the drafts once the batch completes")
	uploadCmd.MarkFlagRequired("event")
	uploadCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) {
	logging.Init()
	initStart := time.Now()
	ctx := context.Background()

	paths := filesFlag
	if len(paths) == 0 {
		paths = pickFiles()
	}
	if len(paths) == 0 {
		fmt.Println("No files selected.")
		return
	}

	aws := boot.InitAWS(ctx)
	blob := boot.InitBlobStore(aws.Config)
	records := boot.InitRecordStore(aws.Config)
	stream := boot.InitStreamService(ctx, aws.SSM)

	boot.StartupLog("eventmedia-upload", initStart).
		Config("event", eventFlag).
		Config("user", userFlag).
		Emit()

	cfg := batch.Config{
		EventID:     eventFlag,
		UserID:      userFlag,
		Concurrency: concurrencyFlag,
		Blob:        blob,
		Records:     records,
	}
	if stream != nil {
		cfg.Stream = stream
		cfg.Converter = stream
	}
	orch, err := batch.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create upload batch")
	}
	defer orch.Close()

	added, err := orch.AddFiles(paths)
	if err != nil {
		log.Warn().Err(err).Msg("Some files were not added")
	}
	if len(added) == 0 {
		log.Fatal().Msg("No usable files in selection")
	}
	if captionFlag != "" {
		orch.SetBatchCaption(captionFlag)
	}

	fmt.Println("============================================")
	fmt.Printf("Uploading %d file(s) to event %s\n", len(added), eventFlag)
	fmt.Println("--------------------------------------------")

	orch.Start()
	watchProgress(ctx, orch)
	orch.FlushMetrics()

	snap := orch.Snapshot()
	var done, skipped, failed int
	for _, f := range snap.Files {
		switch f.Status {
		case batch.StatusComplete:
			done++
		case batch.StatusSkipped:
			skipped++
		case batch.StatusError:
			failed++
		}
	}
	fmt.Println("--------------------------------------------")
	fmt.Printf("Uploaded %d, skipped %d duplicate(s), failed %d\n", done, skipped, failed)

	if publishAfterFlag {
		if failed > 0 {
			fmt.Println("Not publishing: the batch has failed files. Retry or publish manually.")
			os.Exit(1)
		}
		n, err := orch.Publish(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Publish failed")
		}
		fmt.Printf("Published %d item(s).\n", n)
	} else if done > 0 {
		fmt.Println("Drafts saved. Run 'eventmedia publish' to make them visible.")
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// watchProgress prints a line whenever a file changes state, until every
// file is terminal.
func watchProgress(ctx context.Context, orch *batch.Orchestrator) {
	seen := make(map[string]batch.FileStatus)
	for {
		updates := orch.Updates()
		snap := orch.Snapshot()
		for _, f := range snap.Files {
			if seen[f.ID] == f.Status {
				continue
			}
			seen[f.ID] = f.Status
			switch f.Status {
			case batch.StatusUploading:
				fmt.Printf("   %-32s uploading\n", f.Name)
			case batch.StatusComplete:
				fmt.Printf("   %-32s done\n", f.Name)
			case batch.StatusSkipped:
				fmt.Printf("   %-32s skipped (already in gallery)\n", f.Name)
			case batch.StatusRetrying:
				fmt.Printf("   %-32s retrying (attempt %d of %d)\n", f.Name, f.RetryCount, batch.MaxRetries)
			case batch.StatusError:
				fmt.Printf("   %-32s FAILED: %s\n", f.Name, f.Err)
			}
		}
		if snap.Status == batch.BatchComplete {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-updates:
		}
	}
}

// pickFiles opens a native file dialog when no --files flags were given.
func pickFiles() []string {
	selected, err := zenity.SelectFileMultiple(
		zenity.Title("Select media files"),
		zenity.FileFilters{
			{
				Name: "Media files",
				Patterns: []string{
					"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp",
					"*.heic", "*.heif",
					"*.mp4", "*.mov", "*.avi", "*.webm",
				},
			},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return nil
		}
		log.Fatal().Err(err).Msg("File picker failed")
	}
	return selected
}
