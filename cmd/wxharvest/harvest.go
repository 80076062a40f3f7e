package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"wxharvest/pkg/harvest"
	"wxharvest/pkg/mp"
	"wxharvest/pkg/storage"
	"wxharvest/pkg/ui"
)

var (
	startPage   int
	maxPages    int
	sinceFlag   string
	fullContent bool
	pacing      time.Duration
	noStore     bool
	verbose     bool
)

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest <biz-id>",
	Short: "Page through the published articles of one account",
	Long: `Fetch listing pages of one official account with the stored session.

Pages are fetched one at a time with a pause between them. The walk stops
at the page limit, at the first empty page, or at the first article older
than --since. Records are stored and changed ones published unless
--no-store is given.`,
	Example: `  # First page only
  wxharvest harvest MzA5NDEzMzMwMQ==

  # Ten pages, stopping at articles older than a date
  wxharvest harvest MzA5NDEzMzMwMQ== --max-pages 10 --since 2024-01-01

  # Resume a walk at page 4 and fetch article bodies
  wxharvest harvest 3094133301 --start-page 4 --full-content`,
	Args: cobra.ExactArgs(1),
	Run:  runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.Flags().IntVar(&startPage, "start-page", 0, "first page to fetch (0-based)")
	harvestCmd.Flags().IntVar(&maxPages, "max-pages", 0, "pages to fetch, 1-50 (default from config)")
	harvestCmd.Flags().StringVar(&sinceFlag, "since", "", "stop at articles older than this (unix seconds, YYYY-MM-DD or RFC3339)")
	harvestCmd.Flags().BoolVar(&fullContent, "full-content", false, "fetch each article body")
	harvestCmd.Flags().DurationVar(&pacing, "pacing", 0, "pause between pages (default from config)")
	harvestCmd.Flags().BoolVar(&noStore, "no-store", false, "print records without storing them")
	harvestCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every article")
}

// parseSince accepts unix seconds, a date, or an RFC3339 timestamp
func parseSince(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &secs, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			secs := t.Unix()
			return &secs, nil
		}
	}
	return nil, fmt.Errorf("unrecognised time %q", s)
}

func runHarvest(cmd *cobra.Command, args []string) {
	flags := map[string]interface{}{}
	if maxPages > 0 {
		flags["max-pages"] = maxPages
	}
	if pacing > 0 {
		flags["pacing"] = pacing
	}
	if cmd.Flags().Changed("full-content") {
		flags["full-content"] = fullContent
	}
	cfg := loadConfig(cmd, flags)
	a := mustApp(cfg, !noStore)
	defer a.Close()

	fakeID, err := mp.NormalizeFakeID(args[0])
	if err != nil {
		fail("Invalid biz id", err)
	}
	since, err := parseSince(sinceFlag)
	if err != nil {
		fail("Invalid --since", err)
	}

	req := harvest.Request{
		AccountBizID:     fakeID,
		AccountID:        storage.FeedID(fakeID),
		StartPage:        startPage,
		MaxPages:         cfg.Harvest.MaxPages,
		PacingInterval:   cfg.Harvest.PacingInterval,
		Since:            since,
		FetchFullContent: cfg.Harvest.FetchFullContent,
	}

	ctx, cancel := signalContext()
	defer cancel()

	progress := ui.NewHarvestProgress(req.AccountID, verbose || noStore)
	sink := func(rec harvest.Record) bool {
		changed := true
		if !noStore {
			var err error
			if changed, err = a.db.Upsert(ctx, rec); err != nil {
				a.log.WithError(err).Warn("Failed to store article")
				changed = false
			} else if changed {
				if err := a.publisher.Publish(ctx, rec); err != nil {
					a.log.WithError(err).Warn("Failed to publish article")
				}
			}
		}
		progress.Observe(rec, changed)
		return changed
	}

	sum, err := a.harvester.Harvest(ctx, a.sessions.Snapshot(), req, sink)
	progress.PrintSummary(sum)
	if err != nil {
		ui.PrintInfo("Resume with", fmt.Sprintf("--start-page %d", sum.NextPage))
		fail("Harvest failed", err)
	}
}
