package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"sidepanel/internal/chat"
	"sidepanel/internal/logging"
	"sidepanel/internal/provider"
	"sidepanel/internal/stream"
)

// TitlePrompt asks the model to name the conversation.
const TitlePrompt = `Create a concise title (2-4 words) for our conversation. Only respond with the title, no extra text. Example: "Trade War Escalates"`

// CleanTitle strips quotes and heading marks.
func CleanTitle(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, "#", "")
	return strings.TrimSpace(s)
}

// TitleGenerator names a conversation after its first exchange.
type TitleGenerator struct {
	Registry *provider.Registry
	Chat     *chat.Client
	HTTP     *http.Client
	// GeminiBaseURL overrides the native Gemini endpoint.
	GeminiBaseURL string
}

func titleTurns(user, reply string) []provider.Message {
	if user == "" {
		user = TitlePrompt
	}
	if reply == "" {
		reply = TitlePrompt
	}
	return []provider.Message{
		{Role: "user", Content: user},
		{Role: "assistant", Content: reply},
		{Role: "user", Content: TitlePrompt},
	}
}

// Generate returns a cleaned title for the exchange.
func (g *TitleGenerator) Generate(ctx context.Context, model provider.Model, creds provider.Credentials, user, reply string) (string, error) {
	turns := titleTurns(user, reply)
	var (
		title string
		err   error
	)
	if model.Host == provider.Gemini {
		title, err = g.generateGemini(ctx, model.ID, creds.GeminiAPIKey, turns)
	} else {
		title, err = g.generateStream(ctx, model, creds, turns)
	}
	if err != nil {
		logging.APIWarn("title generation via %s failed: %v", model.Host, err)
		return "", err
	}
	logging.APIDebug("conversation titled %q", title)
	return title, nil
}

func (g *TitleGenerator) generateGemini(ctx context.Context, model, apiKey string, turns []provider.Message) (string, error) {
	if apiKey == "" {
		return "", errors.New("gemini api key not configured")
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.HTTP,
	}
	if g.GeminiBaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.GeminiBaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return "", fmt.Errorf("failed to create GenAI client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generateContent: %w", err)
	}
	title := CleanTitle(resp.Text())
	if title == "" {
		return "", errors.New("empty title")
	}
	return title, nil
}

func (g *TitleGenerator) generateStream(ctx context.Context, model provider.Model, creds provider.Credentials, turns []provider.Message) (string, error) {
	desc, err := g.Registry.Lookup(model.Host)
	if err != nil {
		return "", err
	}

	var (
		mu     sync.Mutex
		latest string
		failed string
	)
	sess := g.Chat.Send(ctx, chat.Request{
		URL:      desc.ChatURL(creds),
		Body:     provider.ChatBody{Model: model.ID, Messages: turns, Stream: true},
		Headers:  desc.Headers(creds),
		Provider: desc.ID,
	}, func(text string, final bool) {
		mu.Lock()
		defer mu.Unlock()
		if final && strings.HasPrefix(text, stream.ErrorText("")) {
			failed = text
			return
		}
		if t := CleanTitle(text); t != "" {
			latest = t
		}
	})
	if sess == nil {
		return "", fmt.Errorf("request to %s dropped", desc.ID)
	}
	sess.Wait()

	mu.Lock()
	defer mu.Unlock()
	if failed != "" {
		return "", errors.New(failed)
	}
	if latest == "" {
		return "", errors.New("empty title")
	}
	return latest, nil
}
