package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sidepanel/internal/assistant"
)

var (
	searchMode  string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Fetch a results page and print its text",
	Long: `Runs the web search used by web mode and prints the extracted text,
truncated to the configured web limit.

Modes: duckduckgo, brave, google.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", "", "Search engine (default: chat.web_mode from config)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", -1, "Limit in thousands of characters, 50 for unlimited (default: chat.web_limit)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mode := searchMode
	if mode == "" {
		mode = cfg.Chat.WebMode
	}
	limit := searchLimit
	if limit < 0 {
		limit = cfg.Chat.WebLimit
	}

	core := newStreamCore(newLiveConfig(cfg))
	defer core.Close()

	query := strings.Join(args, " ")
	logger.Info("Searching", zap.String("mode", mode), zap.String("query", query))
	text := core.searcher.Search(ctx, query, mode)

	out := cmd.OutOrStdout()
	if text == "" {
		fmt.Fprintln(out, mutedStyle.Render("no results"))
		return nil
	}
	fmt.Fprintln(out, assistant.LimitText(text, limit))
	return nil
}
