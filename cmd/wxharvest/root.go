package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"wxharvest/pkg/config"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	noColor       bool
	notifications bool
	headless      bool
	showLogo      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wxharvest",
	Short: "Harvest published articles from WeChat official accounts",
	Long: `wxharvest logs into the official-account backend with a QR code, keeps
the session alive and pages through the articles of subscribed accounts.

Features:
  - QR login through a headless browser, one attempt at a time
  - Cookie-replay renewal of the stored session
  - Bounded, paced harvests with checkpointed incremental sync
  - SQLite article store and optional Kafka publishing
  - Cron-scheduled full updates of every subscribed account`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
		if showLogo && cmd.Name() != "version" && cmd.Name() != "help" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.wxharvest.yaml or ~/.config/wxharvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", true, "enable desktop notifications")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "run the browser headless")
	rootCmd.PersistentFlags().BoolVar(&showLogo, "logo", false, "print the logo before running")

	rootCmd.SetVersionTemplate(`wxharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration with the global flags merged on top and
// initializes the global logger from it.
func loadConfig(cmd *cobra.Command, extra map[string]interface{}) *config.Config {
	flags := make(map[string]interface{})
	for k, v := range extra {
		flags[k] = v
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if f := cmd.Flags().Lookup("headless"); f != nil && f.Changed {
		flags["headless"] = headless
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}
	if f := cmd.Flags().Lookup("notifications"); f != nil && f.Changed {
		cfg.Notifications.Enabled = notifications
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	logger.WithField("version", version).Debug("wxharvest starting")
	return cfg
}

// fail prints err and exits
func fail(msg string, err error) {
	logger.WithError(err).Error(msg)
	ui.PrintError(msg, err.Error())
	os.Exit(1)
}
