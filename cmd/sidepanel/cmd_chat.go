package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sidepanel/internal/assistant"
	"sidepanel/internal/store"
)

var (
	chatMode  string
	chatRaw   bool
	chatTitle bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message and stream the reply",
	Long: `Runs the same send flow as the panel: optional query rewrite and web
search in web mode, stored page content in page mode, then the streamed
completion from the selected model.

Examples:
  sidepanel chat "what is a monad"
  sidepanel chat --mode web "latest go release"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatMode, "mode", "", "Chat mode override: chat, page or web")
	chatCmd.Flags().BoolVar(&chatRaw, "raw", false, "Stream raw text instead of rendering markdown at the end")
	chatCmd.Flags().BoolVar(&chatTitle, "title", false, "Also generate a conversation title")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if chatMode != "" {
		cfg.Chat.ChatMode = chatMode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	live := newLiveConfig(cfg)

	kv, err := store.OpenSQLite(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer kv.Close()

	core := newStreamCore(live)
	defer core.Close()

	asst := assistant.New(assistant.Deps{
		Config:    live.Get,
		Registry:  core.registry,
		Chat:      core.chat,
		Rewriter:  core.rewriter,
		Searcher:  core.searcher,
		Discovery: core.discovery,
		Store:     kv,
	})

	message := strings.Join(args, " ")
	out := cmd.OutOrStdout()
	logger.Debug("Sending chat message", zap.String("mode", cfg.Chat.ChatMode), zap.Int("len", len(message)))

	reply, err := streamReply(ctx, asst, message, out)
	if err != nil {
		return err
	}
	if !chatRaw {
		fmt.Fprint(out, renderMarkdown(reply))
	} else {
		fmt.Fprintln(out)
	}

	if chatTitle {
		model, err := asst.Model(ctx)
		if err != nil {
			return err
		}
		gen := &assistant.TitleGenerator{Registry: core.registry, Chat: core.chat, HTTP: core.http}
		title, err := gen.Generate(ctx, model, cfg.Credentials(), message, reply)
		if err != nil {
			logger.Warn("Title generation failed", zap.Error(err))
			return nil
		}
		fmt.Fprintln(out, headerStyle.Render(title))
	}
	return nil
}

// streamReply runs one send and returns the final text. In raw mode text
// increments are written to out as they arrive.
func streamReply(ctx context.Context, asst *assistant.Assistant, message string, out io.Writer) (string, error) {
	var (
		printed int
		final   string
	)
	sess, err := asst.Send(ctx, assistant.SendRequest{
		ConversationID: uuid.NewString(),
		Message:        message,
	}, func(u assistant.Update) {
		if u.Annotation != "" {
			fmt.Fprintln(out, mutedStyle.Render(u.Annotation))
			return
		}
		if chatRaw && len(u.Text) > printed {
			fmt.Fprint(out, u.Text[printed:])
			printed = len(u.Text)
		}
		if u.Final {
			final = u.Text
		}
	})
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", errors.New("request dropped: restricted provider url")
	}
	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Cancel()
		sess.Wait()
		return "", ctx.Err()
	}
	return final, nil
}
