package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wxharvest/pkg/ui"
)

var (
	feedName    string
	feedAvatar  string
	articlesMax int
)

// feedCmd represents the feed command
var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Manage subscribed official accounts",
}

var feedAddCmd = &cobra.Command{
	Use:   "add <biz-id>",
	Short: "Subscribe to an account",
	Long: `Subscribe to an official account by its biz id. Both the numeric id and
its base64 form are accepted.`,
	Example: `  wxharvest feed add MzA5NDEzMzMwMQ== --name "Example Daily"
  wxharvest feed add 3094133301`,
	Args: cobra.ExactArgs(1),
	Run:  runFeedAdd,
}

var feedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscribed accounts",
	Run:   runFeedList,
}

var feedRemoveCmd = &cobra.Command{
	Use:   "remove <feed-id>",
	Short: "Unsubscribe an account",
	Args:  cobra.ExactArgs(1),
	Run:   runFeedRemove,
}

var feedArticlesCmd = &cobra.Command{
	Use:   "articles <feed-id>",
	Short: "List stored articles of an account, newest first",
	Args:  cobra.ExactArgs(1),
	Run:   runFeedArticles,
}

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.AddCommand(feedAddCmd)
	feedCmd.AddCommand(feedListCmd)
	feedCmd.AddCommand(feedRemoveCmd)
	feedCmd.AddCommand(feedArticlesCmd)

	feedAddCmd.Flags().StringVar(&feedName, "name", "", "display name of the account")
	feedAddCmd.Flags().StringVar(&feedAvatar, "avatar", "", "avatar URL")
	feedArticlesCmd.Flags().IntVarP(&articlesMax, "limit", "n", 20, "maximum number of articles to show")
}

func runFeedAdd(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, true)
	defer a.Close()

	feed, err := a.db.AddFeed(context.Background(), feedName, args[0], feedAvatar)
	if err != nil {
		fail("Failed to add feed", err)
	}
	ui.PrintSuccess("Subscribed")
	ui.PrintInfo("Feed", feed.ID)
	ui.PrintInfo("Biz id", feed.FakeID)
}

func runFeedList(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, true)
	defer a.Close()

	ctx := context.Background()
	feeds, err := a.db.ListFeeds(ctx)
	if err != nil {
		fail("Failed to list feeds", err)
	}
	if len(feeds) == 0 {
		ui.PrintWarning("No feeds subscribed, add one with 'wxharvest feed add <biz-id>'")
		return
	}

	for _, f := range feeds {
		count, err := a.db.Count(ctx, f.ID)
		if err != nil {
			fail("Failed to count articles", err)
		}
		name := f.Name
		if name == "" {
			name = ui.Dim("(unnamed)")
		}
		fmt.Printf("%s  %s  %s\n", ui.Cyan(f.ID), name, ui.Dim(fmt.Sprintf("%d articles", count)))
	}
}

func runFeedRemove(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, true)
	defer a.Close()

	if err := a.db.DeleteFeed(context.Background(), args[0]); err != nil {
		fail("Failed to remove feed", err)
	}
	ui.PrintSuccess("Unsubscribed " + args[0])
}

func runFeedArticles(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd, nil)
	a := mustApp(cfg, true)
	defer a.Close()

	articles, err := a.db.ListByAccount(context.Background(), args[0], articlesMax)
	if err != nil {
		fail("Failed to list articles", err)
	}
	if len(articles) == 0 {
		ui.PrintWarning("No articles stored for " + args[0])
		return
	}
	for _, art := range articles {
		fmt.Printf("%s  %s\n    %s\n",
			ui.Dim(time.Unix(art.PublishTime, 0).Format("2006-01-02 15:04")), art.Title, ui.Dim(art.URL))
	}
}
