package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/harvest"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

type recordingSender struct {
	titles []string
	err    error
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func TestColorDisabledForBuffers(t *testing.T) {
	buf := captureOutput(t)
	PrintSuccess("ok")
	assert.Equal(t, "ok\n", buf.String())

	SetColor(true)
	assert.Equal(t, "\033[32mok\033[0m", Green("ok"))
	SetColor(false)
	assert.Equal(t, "ok", Green("ok"))
}

func TestPrintHelpers(t *testing.T) {
	buf := captureOutput(t)
	PrintInfo("Token", "abc***")
	PrintError("Login failed", errors.New("timeout"))
	PrintWarning("Session expires soon")

	out := buf.String()
	assert.Contains(t, out, "Token: abc***")
	assert.Contains(t, out, "Login failed: timeout")
	assert.Contains(t, out, "Session expires soon")
}

func TestNotifierMirrorsToDesktop(t *testing.T) {
	buf := captureOutput(t)
	sender := &recordingSender{err: errors.New("no display")}
	n := NewNotifierWithSender(sender)

	n.QRCodeReady("/tmp/qrcode.png")
	n.SyncFinished(3, 1, 20, 4)
	n.SyncFinished(3, 0, 20, 4)

	assert.Equal(t, []string{"Scan to log in", "Update finished with failures", "Update finished"}, sender.titles)
	assert.Contains(t, buf.String(), "/tmp/qrcode.png")
	assert.Contains(t, buf.String(), "1 failed")
}

func TestNotifierWithoutDesktop(t *testing.T) {
	buf := captureOutput(t)
	NewNotifier(false).SendNotification("title", "body")
	assert.Contains(t, buf.String(), "title: body")
}

func TestHarvestProgress(t *testing.T) {
	buf := captureOutput(t)
	p := NewHarvestProgress("MP_WXS_1", true)
	p.Observe(harvest.Record{Title: "first", PublishTime: 1700000000}, true)
	p.Observe(harvest.Record{Title: "second", PublishTime: 1700100000}, false)

	records, changed := p.Counts()
	assert.Equal(t, 2, records)
	assert.Equal(t, 1, changed)

	p.PrintSummary(harvest.Summary{PagesFetched: 1, Records: 2, Changed: 1, Exhausted: true})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "+ "))
	assert.True(t, strings.HasPrefix(lines[1], "= "))
	assert.Contains(t, lines[2], "no more articles")
	assert.Contains(t, lines[3], "Newest article")
}
