// Package rewrite turns a user's question into a search-engine query with a
// single non-streaming model call. It never fails: any problem yields the
// original query.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"sidepanel/internal/logging"
	"sidepanel/internal/provider"
	"sidepanel/internal/urlguard"
)

const systemPrompt = "You rewrite questions into web search queries. " +
	"Use the conversation only to resolve references like pronouns. " +
	"Reply with a single search query of at most 12 words. No quotes, no explanation."

// maxQueryLen bounds an acceptable rewrite; longer replies are treated as
// the model ignoring the instruction.
const maxQueryLen = 300

// Result is the query to search for and whether it differs from the input.
type Result struct {
	Query       string
	Original    string
	Substituted bool
}

// Annotation is the user-facing note shown while searching.
func (r Result) Annotation() string {
	if r.Substituted {
		return fmt.Sprintf("Searching for %q (rewritten from %q)", r.Query, r.Original)
	}
	return fmt.Sprintf("Searching for %q (used as-is)", r.Query)
}

// OriginRewriter installs the header-rewrite rule for a loopback target.
type OriginRewriter interface {
	UpdateOrigin(rawURL string) error
}

// Rewriter issues rewrite requests.
type Rewriter struct {
	registry    *provider.Registry
	http        *http.Client
	credentials func() provider.Credentials
	rules       OriginRewriter
	timeout     time.Duration
}

// New returns a Rewriter. creds is consulted per call so config reloads
// take effect. rules may be nil.
func New(reg *provider.Registry, httpClient *http.Client, creds func() provider.Credentials, rules OriginRewriter) *Rewriter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Rewriter{
		registry:    reg,
		http:        httpClient,
		credentials: creds,
		rules:       rules,
		timeout:     20 * time.Second,
	}
}

// WithTimeout overrides the per-request timeout.
func (r *Rewriter) WithTimeout(d time.Duration) *Rewriter {
	r.timeout = d
	return r
}

// Rewrite asks model for a search query for original. history is the
// conversation so far in chronological order. authHeader is an
// Authorization value ("Bearer ...") or "" for local servers.
func (r *Rewriter) Rewrite(ctx context.Context, original string, history []provider.Message, model provider.Model, authHeader string) Result {
	fallback := Result{Query: original, Original: original}
	if strings.TrimSpace(original) == "" || model.ID == "" {
		return fallback
	}

	desc, err := r.registry.Lookup(model.Host)
	if err != nil {
		logging.APIDebug("rewrite skipped: %v", err)
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := buildMessages(original, history)
	creds := r.credentials()

	var reply string
	if desc.WireFormat == provider.WireNDJSON {
		reply, err = r.completeNDJSON(ctx, desc, creds, model.ID, messages)
	} else {
		reply, err = r.completeOpenAI(ctx, desc, creds, model.ID, messages, authHeader)
	}
	if err != nil {
		logging.APIWarn("rewrite via %s failed, using original query: %v", desc.ID, err)
		return fallback
	}

	query := clean(reply)
	if query == "" || len(query) > maxQueryLen {
		logging.APIDebug("rewrite reply unusable: %.80q", reply)
		return fallback
	}

	logging.APIDebug("rewrite %q -> %q", original, query)
	return Result{
		Query:       query,
		Original:    original,
		Substituted: !strings.EqualFold(query, strings.TrimSpace(original)),
	}
}

func buildMessages(original string, history []provider.Message) []provider.Message {
	var convo strings.Builder
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&convo, "%s: %s\n", m.Role, m.Content)
	}

	user := "Question: " + original
	if convo.Len() > 0 {
		user = "Conversation:\n" + convo.String() + "\n" + user
	}
	return []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

// clean keeps the first non-empty line and strips wrapping quotes.
func clean(reply string) string {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "Query:")
		line = strings.Trim(strings.TrimSpace(line), "\"'`")
		return strings.TrimSpace(line)
	}
	return ""
}

func (r *Rewriter) installRule(rawURL string) {
	if r.rules == nil || !urlguard.IsLoopback(rawURL) {
		return
	}
	if err := r.rules.UpdateOrigin(urlguard.Clean(rawURL)); err != nil {
		logging.APIDebug("origin rule skipped for %s: %v", rawURL, err)
	}
}

// completeOpenAI uses the OpenAI SDK against any OpenAI-compatible base.
func (r *Rewriter) completeOpenAI(ctx context.Context, desc provider.Descriptor, creds provider.Credentials, model string, msgs []provider.Message, authHeader string) (string, error) {
	base := desc.BaseURL(creds)
	r.installRule(base)

	key := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if key == "" {
		// Local servers ignore the key, but the SDK insists on one.
		key = "local"
	}

	client := openai.NewClient(
		option.WithAPIKey(key),
		option.WithBaseURL(base+"/"),
		option.WithHTTPClient(r.http),
		option.WithMaxRetries(0),
	)

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
	}
	for _, m := range msgs {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// completeNDJSON calls the local daemon's chat endpoint with streaming off.
func (r *Rewriter) completeNDJSON(ctx context.Context, desc provider.Descriptor, creds provider.Credentials, model string, msgs []provider.Message) (string, error) {
	url := desc.ChatURL(creds)
	r.installRule(url)

	payload, err := json.Marshal(provider.ChatBody{Model: model, Messages: msgs, Stream: false})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %.200s", resp.StatusCode, string(data))
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("response is not JSON")
	}
	content := gjson.GetBytes(data, "message.content")
	if !content.Exists() {
		return "", fmt.Errorf("response has no message.content")
	}
	return content.String(), nil
}
