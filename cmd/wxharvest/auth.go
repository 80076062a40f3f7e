package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wxharvest/pkg/logger"
	"wxharvest/pkg/session"
	"wxharvest/pkg/ui"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in by scanning a QR code",
	Long: `Start a QR login. A headless browser opens the backend login page and
the QR code is written to the configured path. Scan it with WeChat on a
phone bound to the official account.

Only one login runs at a time. If another process is already waiting for a
scan, this command reports it and points at the current QR code.`,
	Example: `  # Log in with the defaults
  wxharvest login

  # Show the browser window while logging in
  wxharvest login --headless=false`,
	Run: runLogin,
}

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Renew the stored session by replaying its cookies",
	Long: `Replay the stored cookie jar in a browser, load the backend home page and
capture a fresh token and cookies. A failed renewal clears the session.`,
	Run: runRefresh,
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, lock and sync status",
	Run:   runStatus,
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session",
	Run:   runLogout,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logoutCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runLogin(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, false)

	ctx, cancel := signalContext()
	defer cancel()

	onSuccess := func(sess session.Session, p session.Profile) {
		if p.Name != "" {
			ui.PrintInfo("Account", p.Name)
		}
	}
	attempt := a.login.BeginLogin(ctx, onSuccess, a.notifier.QRCodeReady)
	if attempt.Busy {
		ui.PrintWarning(attempt.Message)
		ui.PrintInfo("QR code", attempt.QRCodePath)
		return
	}
	ui.PrintHighlight(attempt.Message)

	sess, err := attempt.Wait(ctx)
	if err != nil {
		a.notifier.SendError("Login failed", err.Error())
		os.Exit(1)
	}

	a.notifier.SendSuccess("Logged in", "session stored")
	printSession(*sess)
}

func runRefresh(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, false)

	ctx, cancel := signalContext()
	defer cancel()

	sess, err := a.renewal.Refresh(ctx, a.sessions.Snapshot())
	if err != nil {
		fail("Renewal failed", err)
	}
	ui.PrintSuccess("Session renewed")
	printSession(*sess)
}

func runLogout(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, false)

	lease, err := a.lock.Acquire("logout")
	if err != nil {
		fail("Cannot log out while a login or renewal is running", err)
	}
	defer lease.Release()

	if err := a.sessions.Clear(lease); err != nil {
		fail("Failed to clear session", err)
	}
	ui.PrintSuccess("Session removed")
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, true)
	defer a.Close()

	sess := a.sessions.Snapshot()
	ui.PrintHighlight("Session")
	printSession(sess)
	if p := a.sessions.Profile(); p.Name != "" {
		ui.PrintInfo("Account", p.Name)
		if p.UserCount != "" {
			ui.PrintInfo("Followers", p.UserCount)
		}
		if p.OriginalCount != "" {
			ui.PrintInfo("Original articles", p.OriginalCount)
		}
	}

	fmt.Println()
	ui.PrintHighlight("Login")
	ui.PrintInfo("State", a.login.State().String())
	if rec, err := a.lock.Holder(); err == nil && rec != nil {
		ui.PrintInfo("Lock holder", fmt.Sprintf("%s (pid %d, expires %s)",
			rec.Purpose, rec.PID, rec.ExpiresAt.Format(time.RFC3339)))
	} else {
		ui.PrintInfo("Lock holder", "none")
	}
	if qr := a.login.QRCode(); qr.Ready {
		ui.PrintInfo("QR code", qr.Path)
	}

	fmt.Println()
	ui.PrintHighlight("Feeds")
	feeds, err := a.db.ListFeeds(context.Background())
	if err != nil {
		fail("Failed to list feeds", err)
	}
	ui.PrintInfo("Subscribed", fmt.Sprintf("%d", len(feeds)))
	if cfg.Sync.Enabled {
		ui.PrintInfo("Schedules", fmt.Sprintf("%v", cfg.Sync.Schedules))
	}
}

func printSession(sess session.Session) {
	if !sess.HasCredentials() {
		ui.PrintWarning("No session stored, run 'wxharvest login'")
		return
	}
	ui.PrintInfo("Token", logger.Mask(sess.Token))
	ui.PrintInfo("Cookies", fmt.Sprintf("%d", len(sess.Cookies)))
	if sess.Expiry != nil {
		state := "valid"
		if sess.Expired(time.Now()) {
			state = "expired"
		}
		ui.PrintInfo("Expires", fmt.Sprintf("%s (%s)", sess.Expiry.Local().Format(time.RFC3339), state))
	} else {
		ui.PrintInfo("Expires", "unknown (seeded session)")
	}
}
