package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"wxharvest/internal/feedsync"
	"wxharvest/pkg/config"
	"wxharvest/pkg/harvest"
	"wxharvest/pkg/ui"
)

const defaultConfigName = ".wxharvest.yaml"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold wxharvest settings",
	Long: `Settings are merged from, strongest first: flags, WXHARVEST_* variables,
a .env file, the YAML config file and built-in defaults.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the built-in defaults as YAML",
	Long: `Write the built-in defaults to ` + defaultConfigName + ` in the working
directory, or to the path given with --config. An existing file is never
overwritten.`,
	Args: cobra.NoArgs,
	Run:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged settings as YAML",
	Args:  cobra.NoArgs,
	Run:   runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the settings and check schedules and limits",
	Args:  cobra.NoArgs,
	Run:   runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) {
	target := configFile
	if target == "" {
		target = defaultConfigName
	}
	if _, err := os.Stat(target); err == nil {
		fail("Refusing to overwrite "+target, fmt.Errorf("file exists"))
	}

	if err := config.DefaultConfig().Save(target); err != nil {
		fail("Could not write "+target, err)
	}
	ui.PrintSuccess("Wrote " + target)
	ui.PrintInfo("Next", "wxharvest login, then wxharvest feed add <biz-id>")
}

func runConfigShow(cmd *cobra.Command, _ []string) {
	cfg := loadConfig(cmd, nil)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fail("Could not encode settings", err)
	}
	if configFile != "" {
		fmt.Printf("# merged over %s\n", configFile)
	}
	fmt.Print(string(data))
}

func runConfigValidate(cmd *cobra.Command, _ []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		fail("Settings are invalid", err)
	}

	warnings := configWarnings(cfg)
	for _, w := range warnings {
		ui.PrintWarning(w)
	}
	ui.PrintSuccess(fmt.Sprintf("Settings loaded with %d warning(s)", len(warnings)))

	fmt.Printf("  provider    %s (%d req/min)\n", cfg.Provider.BaseURL, cfg.Provider.RequestsPerMinute)
	fmt.Printf("  session     %s\n", cfg.Session.Backend)
	fmt.Printf("  database    %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("  harvest     %d pages, %s pacing\n", cfg.Harvest.MaxPages, cfg.Harvest.PacingInterval)
	fmt.Printf("  schedules   %v\n", cfg.Sync.Schedules)
	if cfg.Publish.Enabled() {
		fmt.Printf("  kafka       %v -> %s\n", cfg.Publish.Brokers, cfg.Publish.Topic)
	}
}

// configWarnings lists settings that load but will not behave as written.
func configWarnings(cfg *config.Config) []string {
	var out []string
	if err := feedsync.ValidateSchedules(cfg.Sync.Schedules); err != nil {
		out = append(out, err.Error())
	}
	if cfg.Harvest.MaxPages > harvest.MaxPagesLimit {
		out = append(out, fmt.Sprintf("harvest.max_pages %d is clamped to %d", cfg.Harvest.MaxPages, harvest.MaxPagesLimit))
	}
	if len(cfg.Sync.Schedules) == 0 {
		out = append(out, "sync.schedules is empty, serve will not run any syncs")
	}
	return out
}
