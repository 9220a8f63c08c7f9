package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sidepanel/internal/assistant"
	"sidepanel/internal/config"
)

var rewriteHistory []string

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [question]",
	Short: "Rewrite a question into a web search query",
	Long: `Asks the selected model for a search query. Any failure falls back to the
question itself, so this command only errors when no model is selected.

Pass earlier turns newest first with --history.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRewrite,
}

func init() {
	rewriteCmd.Flags().StringSliceVar(&rewriteHistory, "history", nil, "Earlier turns, newest first")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	core := newStreamCore(newLiveConfig(cfg))
	defer core.Close()

	asst := assistant.New(assistant.Deps{
		Config:    func() *config.Config { return cfg },
		Registry:  core.registry,
		Discovery: core.discovery,
	})
	model, err := asst.Model(ctx)
	if err != nil {
		return err
	}
	desc, err := core.registry.Lookup(model.Host)
	if err != nil {
		return err
	}
	auth := desc.Headers(cfg.Credentials()).Get("Authorization")

	question := strings.Join(args, " ")
	res := core.rewriter.Rewrite(ctx, question, assistant.Chronological(rewriteHistory), model, auth)
	logger.Debug("Rewrote query", zap.String("model", model.ID), zap.String("query", res.Query))

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Query)
	fmt.Fprintln(out, mutedStyle.Render(res.Annotation()))
	return nil
}
