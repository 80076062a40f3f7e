package ui

import (
	"fmt"
	"sync"
	"time"

	"wxharvest/pkg/harvest"
)

// HarvestProgress prints a single updating line while a harvest runs
type HarvestProgress struct {
	mu        sync.Mutex
	account   string
	records   int
	changed   int
	newest    int64
	startTime time.Time
	verbose   bool
}

// NewHarvestProgress creates a progress line for one account. Verbose mode
// prints every article on its own line instead.
func NewHarvestProgress(account string, verbose bool) *HarvestProgress {
	return &HarvestProgress{
		account:   account,
		startTime: time.Now(),
		verbose:   verbose,
	}
}

// Observe counts one delivered record
func (p *HarvestProgress) Observe(rec harvest.Record, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.records++
	if changed {
		p.changed++
	}
	if rec.PublishTime > p.newest {
		p.newest = rec.PublishTime
	}

	if p.verbose {
		mark := Dim("=")
		if changed {
			mark = Green("+")
		}
		fmt.Fprintf(writer(), "%s %s %s\n", mark,
			Dim(time.Unix(rec.PublishTime, 0).Format("2006-01-02 15:04")), rec.Title)
		return
	}
	fmt.Fprintf(writer(), "\r%s %s | articles: %d | changed: %d | %s",
		Green("[HARVEST]"), p.account, p.records, p.changed, formatElapsed(time.Since(p.startTime)))
}

// Counts returns the records and changed totals so far
func (p *HarvestProgress) Counts() (records, changed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records, p.changed
}

// PrintSummary ends the progress line with the harvest summary
func (p *HarvestProgress) PrintSummary(sum harvest.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.verbose && p.records > 0 {
		fmt.Fprintln(writer())
	}
	reason := "page limit reached"
	switch {
	case sum.StoppedBySince:
		reason = "reached already harvested articles"
	case sum.Exhausted:
		reason = "no more articles"
	}
	fmt.Fprintf(writer(), "%s %d pages, %d articles, %d new or updated (%s) in %s\n",
		Magenta("[DONE]"), sum.PagesFetched, sum.Records, sum.Changed, reason,
		formatElapsed(time.Since(p.startTime)))
	if p.newest > 0 {
		PrintInfo("Newest article", time.Unix(p.newest, 0).Format(time.RFC3339))
	}
}

func formatElapsed(d time.Duration) string {
	return d.Round(time.Second).String()
}
