// Package assistant runs one panel send: optional query rewrite and web
// search, prompt assembly with page context, then the streamed completion.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sidepanel/internal/chat"
	"sidepanel/internal/config"
	"sidepanel/internal/logging"
	"sidepanel/internal/provider"
	"sidepanel/internal/rewrite"
	"sidepanel/internal/search"
	"sidepanel/internal/store"
)

var (
	// ErrEmptyMessage is returned for a blank send.
	ErrEmptyMessage = errors.New("empty message")
	// ErrNoModel is returned when no usable model is selected.
	ErrNoModel = errors.New("no model selected")
)

// Update is one event of a send: either a search annotation or the
// accumulated reply text.
type Update struct {
	Annotation string `json:"annotation,omitempty"`
	Text       string `json:"text"`
	Final      bool   `json:"final"`
}

// SendRequest is a user turn. History is newest first.
type SendRequest struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message"`
	History        []string `json:"history"`
}

// Deps wires an Assistant. Rewriter, Searcher, Discovery and Pages may be nil.
type Deps struct {
	Config    func() *config.Config
	Registry  *provider.Registry
	Chat      *chat.Client
	Rewriter  *rewrite.Rewriter
	Searcher  *search.Searcher
	Discovery *provider.Discovery
	Store     store.KV
	Pages     PageSource
}

// Assistant is safe for concurrent use.
type Assistant struct {
	Deps
}

// New returns an Assistant.
func New(d Deps) *Assistant {
	return &Assistant{Deps: d}
}

// Model resolves the selected model and its host.
func (a *Assistant) Model(ctx context.Context) (provider.Model, error) {
	cfg := a.Config()
	sel := cfg.Chat.SelectedModel
	if sel == "" {
		return provider.Model{}, ErrNoModel
	}
	if cfg.Chat.ModelHost != "" {
		host, err := provider.ParseID(cfg.Chat.ModelHost)
		if err != nil {
			return provider.Model{}, err
		}
		return provider.Model{ID: sel, Host: host}, nil
	}
	if a.Discovery == nil {
		return provider.Model{}, fmt.Errorf("%w: host unknown for %s", ErrNoModel, sel)
	}
	models, _ := a.Discovery.Discover(ctx, cfg.Credentials())
	m, ok := provider.FindModel(models, sel)
	if !ok {
		return provider.Model{}, fmt.Errorf("%w: %s not offered by any provider", ErrNoModel, sel)
	}
	return m, nil
}

// Send prepares context and starts the stream. Text updates arrive on on;
// the returned session is nil if the request was dropped.
func (a *Assistant) Send(ctx context.Context, req SendRequest, on func(Update)) (*chat.Session, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	cfg := a.Config()
	model, err := a.Model(ctx)
	if err != nil {
		return nil, err
	}
	desc, err := a.Registry.Lookup(model.Host)
	if err != nil {
		return nil, err
	}
	creds := cfg.Credentials()
	headers := desc.Headers(creds)

	var web string
	if cfg.Chat.ChatMode == "web" {
		web = a.webContext(ctx, cfg, req, model, headers.Get("Authorization"), on)
	}

	var page string
	if cfg.Chat.ChatMode == "page" {
		page = a.pageContext(ctx, cfg)
	}

	system := SystemPrompt(cfg.PersonaPrompt(),
		LimitText(page, cfg.Chat.ContextLimit),
		LimitText(web, cfg.Chat.WebLimit))

	logging.APIDebug("send: model=%s host=%s mode=%s page=%d web=%d history=%d",
		model.ID, model.Host, cfg.Chat.ChatMode, len(page), len(web), len(req.History))

	sess := a.Chat.Send(ctx, chat.Request{
		ConversationID: req.ConversationID,
		URL:            desc.ChatURL(creds),
		Body: provider.ChatBody{
			Model:    model.ID,
			Messages: BuildMessages(system, req.Message, req.History),
			Stream:   true,
		},
		Headers:  headers,
		Provider: desc.ID,
	}, func(text string, final bool) {
		on(Update{Text: text, Final: final})
	})
	return sess, nil
}

func (a *Assistant) webContext(ctx context.Context, cfg *config.Config, req SendRequest, model provider.Model, auth string, on func(Update)) string {
	if a.Searcher == nil {
		return ""
	}
	query := req.Message
	if cfg.Chat.RewriteQuery && a.Rewriter != nil {
		res := a.Rewriter.Rewrite(ctx, req.Message, Chronological(req.History), model, auth)
		query = res.Query
		on(Update{Annotation: res.Annotation()})
	}
	return a.Searcher.Search(ctx, query, cfg.Chat.WebMode)
}

func (a *Assistant) pageContext(ctx context.Context, cfg *config.Config) string {
	if a.Store == nil {
		return ""
	}
	key := store.KeyPageString
	if cfg.Chat.PageMode == "html" {
		key = store.KeyPageHTML
	}
	v, err := store.GetString(ctx, a.Store, key)
	if err != nil {
		logging.APIWarn("read %s: %v", key, err)
		return ""
	}
	return v
}
