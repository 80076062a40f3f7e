package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"wxharvest/internal/feedsync"
	"wxharvest/internal/worker"
	"wxharvest/pkg/ui"
	"wxharvest/pkg/ui/tui"
)

var useTUI bool

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a full update of every subscribed account",
	Long: `Harvest every subscribed account once on the worker pool. With incremental
sync enabled each account stops at the newest article of its last run.
Network failures are retried from the page that failed.`,
	Example: `  wxharvest sync
  wxharvest sync --tui`,
	Run: runSync,
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the session alive and run scheduled full updates",
	Long: `Run in the foreground until interrupted. The session is renewed on the
configured interval and full updates run on the configured cron schedules.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)

	syncCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live dashboard")
}

func runSync(cmd *cobra.Command, args []string) {
	flags := map[string]interface{}{}
	if useTUI && logLevel == "" {
		// console logs would draw over the dashboard
		flags["log-level"] = "error"
	}
	cfg := loadConfig(cmd, flags)
	a := mustApp(cfg, true)
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var report *feedsync.RunReport
	var err error
	if useTUI && ui.IsInteractive() {
		report, err = syncWithDashboard(ctx, cancel, a)
	} else {
		ui.PrintHighlight("[FULL UPDATE]")
		report, err = a.sync.SyncAll(ctx)
	}
	if err != nil {
		fail("Full update failed", err)
	}

	for _, res := range report.Results {
		if res.Success() {
			ui.PrintSuccess(fmt.Sprintf("✓ %s: %d articles, %d changed", res.Job.AccountID, res.Summary.Records, res.Summary.Changed))
		} else {
			ui.PrintError("✗ "+res.Job.AccountID, res.Error)
		}
	}
	a.notifier.SyncFinished(report.Feeds, report.Failed, report.Records, report.Changed)
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func syncWithDashboard(ctx context.Context, cancel context.CancelFunc, a *app) (*feedsync.RunReport, error) {
	feeds, err := a.db.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}
	dash := tui.NewTUI()
	a.sync.SetObserver(dash)
	defer a.sync.SetObserver(nil)

	jobs := make([]worker.Job, 0, len(feeds))
	for _, f := range feeds {
		jobs = append(jobs, worker.Job{AccountID: f.ID, FakeID: f.FakeID, Name: f.Name})
	}

	type outcome struct {
		report *feedsync.RunReport
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		dash.Queue(jobs)
		report, err := a.sync.SyncAll(ctx)
		dash.Done()
		done <- outcome{report, err}
	}()

	if err := dash.Run(); err != nil {
		a.log.WithError(err).Warn("Dashboard failed")
	}
	// quitting the dashboard early abandons the update
	cancel()
	out := <-done
	return out.report, out.err
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, true)
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Renewal.Enabled {
		if err := a.renewal.Start(ctx); err != nil {
			fail("Failed to start renewal", err)
		}
		defer a.renewal.Stop()
		ui.PrintInfo("Renewal", "every "+cfg.Renewal.Interval.String())
	}

	if cfg.Sync.Enabled {
		if err := a.sync.Start(ctx); err != nil {
			fail("Failed to start scheduled updates", err)
		}
		defer a.sync.Stop()
		for _, next := range a.sync.NextRuns() {
			ui.PrintInfo("Next update", next.Format(time.RFC3339))
		}
	}

	if !cfg.Renewal.Enabled && !cfg.Sync.Enabled {
		ui.PrintWarning("Renewal and scheduled updates are both disabled, nothing to serve")
		return
	}

	ui.PrintSuccess("Serving, press Ctrl+C to stop")
	<-ctx.Done()
	ui.PrintInfo("Shutting down", "waiting for running jobs")
}
