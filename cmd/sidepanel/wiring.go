package main

import (
	"net/http"

	"sidepanel/internal/chat"
	"sidepanel/internal/netrule"
	"sidepanel/internal/provider"
	"sidepanel/internal/rewrite"
	"sidepanel/internal/search"
)

// streamCore is the provider-facing half of the daemon, shared by the
// one-shot commands.
type streamCore struct {
	registry  *provider.Registry
	rules     *netrule.Table
	http      *http.Client
	chat      *chat.Client
	rewriter  *rewrite.Rewriter
	searcher  *search.Searcher
	discovery *provider.Discovery
}

func newStreamCore(live *liveConfig) *streamCore {
	reg := provider.Default()
	rules := netrule.NewTable()
	// No client timeout: chat streams end when the transport closes.
	client := rules.Client()
	return &streamCore{
		registry: reg,
		rules:    rules,
		http:     client,
		chat:     chat.NewClient(reg, client, rules),
		rewriter: rewrite.New(reg, client, func() provider.Credentials {
			return live.Get().Credentials()
		}, rules),
		searcher:  search.New(client, rules),
		discovery: provider.NewDiscovery(reg, client),
	}
}

func (c *streamCore) Close() {
	c.chat.Close()
}
