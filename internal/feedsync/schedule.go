package feedsync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"wxharvest/pkg/logger"
)

// ValidateSchedules checks standard five-field cron expressions
func ValidateSchedules(exprs []string) error {
	for _, expr := range exprs {
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", expr, err)
		}
	}
	return nil
}

type cronScheduler struct {
	cron *cron.Cron
}

// cronLogger adapts logger.Logger to cron's logging interface
type cronLogger struct {
	logger logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.DebugWithFields("cron: "+msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).ErrorWithFields("cron: "+msg, pairs(keysAndValues))
}

func pairs(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}

// Start schedules SyncAll on every configured cron expression. Runs that
// would overlap a still-running update are skipped.
func (r *Runner) Start(ctx context.Context) error {
	if len(r.opts.Schedules) == 0 {
		return fmt.Errorf("no sync schedules configured")
	}
	if err := ValidateSchedules(r.opts.Schedules); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return fmt.Errorf("sync scheduler already running")
	}

	cl := cronLogger{logger: r.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, expr := range r.opts.Schedules {
		if _, err := c.AddFunc(expr, func() {
			if _, err := r.SyncAll(ctx); err != nil {
				r.logger.WithError(err).Warn("Scheduled full update failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule %q: %w", expr, err)
		}
	}
	c.Start()
	r.scheduler = &cronScheduler{cron: c}

	logger.LogComponentStart(r.logger, "feedsync", map[string]interface{}{"schedules": r.opts.Schedules})
	return nil
}

// NextRuns returns the upcoming run times, soonest first
func (r *Runner) NextRuns() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler == nil {
		return nil
	}
	var out []time.Time
	for _, e := range r.scheduler.cron.Entries() {
		out = append(out, e.Next)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Stop halts the schedule and waits for a running update to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	s := r.scheduler
	r.scheduler = nil
	r.mu.Unlock()

	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
	logger.LogComponentStop(r.logger, "feedsync", "stopped")
}
