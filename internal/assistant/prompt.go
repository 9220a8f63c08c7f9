package assistant

import (
	"strings"

	"sidepanel/internal/provider"
)

// UnlimitedContext is the limit setting that disables truncation.
const UnlimitedContext = 50

// LimitText truncates s to 1000*limit characters. A zero limit counts as 1;
// UnlimitedContext keeps s whole.
func LimitText(s string, limit int) string {
	if s == "" || limit == UnlimitedContext {
		return s
	}
	if limit <= 0 {
		limit = 1
	}
	max := 1000 * limit
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// SystemPrompt joins the persona with optional page and web context.
func SystemPrompt(persona, page, web string) string {
	var b strings.Builder
	b.WriteString(persona)
	if page != "" {
		b.WriteString("\n. here is the page content: ")
		b.WriteString(page)
	}
	if web != "" {
		b.WriteString("\n. here is a quick web search result about the topic (refer to this as your quick web search): ")
		b.WriteString(web)
	}
	return b.String()
}

// BuildMessages returns the wire messages for a new user turn. history is
// newest first and alternates assistant, user, assistant... so that with the
// new message prepended, even positions are user turns.
func BuildMessages(system, message string, history []string) []provider.Message {
	turns := append([]string{message}, history...)
	out := make([]provider.Message, 0, len(turns)+1)
	out = append(out, provider.Message{Role: "system", Content: system})
	for i := len(turns) - 1; i >= 0; i-- {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out = append(out, provider.Message{Role: role, Content: turns[i]})
	}
	return out
}

// Chronological converts newest-first history into ordered turns, for the
// query rewriter.
func Chronological(history []string) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		out = append(out, provider.Message{Role: role, Content: history[i]})
	}
	return out
}
