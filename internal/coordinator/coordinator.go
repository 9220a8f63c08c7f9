// Package coordinator keeps content scripts in sync with panel visibility.
//
// The persisted panelOpen flag is written only here, in response to
// side-panel port lifecycle events. Tab listeners are subscribed while a
// panel port is initialized and released when it disconnects.
package coordinator

import (
	"context"
	"sync"

	"sidepanel/internal/logging"
	"sidepanel/internal/port"
	"sidepanel/internal/store"
)

// Tab identifies a browser tab.
type Tab struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// TabActivated fires when a tab gains focus.
type TabActivated struct {
	TabID string
}

// TabUpdated fires when a tab's load state or URL changes.
type TabUpdated struct {
	TabID  string
	Status string // "loading" or "complete"
	URL    string // set only when the URL changed
}

// TabHandlers receive tab events from a subscription.
type TabHandlers struct {
	OnActivated func(TabActivated)
	OnUpdated   func(TabUpdated)
}

// Subscription is a live set of tab listeners. Close blocks until no
// handler is running.
type Subscription interface {
	Close()
}

// Tabs is the browser's tab surface.
type Tabs interface {
	ActiveTab(ctx context.Context) (Tab, bool, error)
	Watch(h TabHandlers) (Subscription, error)
}

// Injector installs the content script into a tab. Implementations are
// idempotent and skip restricted pages themselves.
type Injector interface {
	Inject(ctx context.Context, tabID string) error
}

// State is a point-in-time view for diagnostics.
type State struct {
	PanelOpen          bool `json:"panel_open"`
	TabListenersActive bool `json:"tab_listeners_active"`
	Panels             int  `json:"panels"`
}

// Coordinator reacts to port and tab events.
type Coordinator struct {
	kv       store.KV
	tabs     Tabs
	injector Injector

	mu   sync.Mutex
	ctx  context.Context
	subs map[*port.Port]Subscription
}

// New creates a coordinator. Call Start before accepting ports.
func New(kv store.KV, tabs Tabs, injector Injector) *Coordinator {
	return &Coordinator{
		kv:       kv,
		tabs:     tabs,
		injector: injector,
		ctx:      context.Background(),
		subs:     make(map[*port.Port]Subscription),
	}
}

// Start resets the persisted panel flag. ctx bounds all later handler work.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	if err := c.kv.SetItem(ctx, store.KeyPanelOpen, false); err != nil {
		logging.CoordinatorError("reset panelOpen: %v", err)
		return err
	}
	logging.Coordinator("coordinator started, panel closed")
	return nil
}

// OnConnect attaches the paired message and disconnect handlers to p.
func (c *Coordinator) OnConnect(p *port.Port) {
	logging.CoordinatorDebug("port connected: %s", p.Name())
	removeMsg := p.OnMessage(func(m port.Message) { c.handleMessage(p, m) })
	p.OnDisconnect(func() {
		c.handleDisconnect(p)
		removeMsg()
	})
}

// State reports the panel flag and listener status.
func (c *Coordinator) State(ctx context.Context) State {
	open, err := store.GetBool(ctx, c.kv, store.KeyPanelOpen)
	if err != nil {
		logging.CoordinatorWarn("read panelOpen: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{PanelOpen: open, TabListenersActive: len(c.subs) > 0, Panels: len(c.subs)}
}

func (c *Coordinator) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Coordinator) handleMessage(p *port.Port, m port.Message) {
	if p.Name() != port.SidePanelPort || m.Type != port.TypeInit {
		return
	}
	ctx := c.baseContext()
	logging.Coordinator("panel opened")

	if err := c.kv.SetItem(ctx, store.KeyPanelOpen, true); err != nil {
		logging.CoordinatorError("set panelOpen: %v", err)
		return
	}

	c.ensureListeners(p)

	tab, ok, err := c.tabs.ActiveTab(ctx)
	switch {
	case err != nil:
		logging.CoordinatorWarn("query active tab: %v", err)
	case ok && tab.ID != "":
		c.inject(ctx, tab.ID)
	}

	if err := p.PostMessage(port.HandleInit()); err != nil {
		logging.CoordinatorWarn("reply handle-init: %v", err)
	}
}

func (c *Coordinator) ensureListeners(p *port.Port) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[p]; ok {
		return
	}
	sub, err := c.tabs.Watch(TabHandlers{
		OnActivated: c.handleTabActivated,
		OnUpdated:   c.handleTabUpdated,
	})
	if err != nil {
		logging.CoordinatorError("register tab listeners: %v", err)
		return
	}
	c.subs[p] = sub
	logging.CoordinatorDebug("tab listeners registered")
}

func (c *Coordinator) handleDisconnect(p *port.Port) {
	if p.Name() != port.SidePanelPort {
		logging.CoordinatorDebug("port %s disconnected", p.Name())
		return
	}
	ctx := c.baseContext()
	if err := c.kv.SetItem(ctx, store.KeyPanelOpen, false); err != nil {
		logging.CoordinatorError("clear panelOpen: %v", err)
	}

	c.mu.Lock()
	sub, ok := c.subs[p]
	delete(c.subs, p)
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
	logging.Coordinator("panel closed, listeners removed")
}

func (c *Coordinator) handleTabActivated(ev TabActivated) {
	ctx := c.baseContext()
	if !c.panelOpen(ctx) {
		return
	}
	logging.CoordinatorDebug("tab activated with panel open: %s", ev.TabID)
	c.inject(ctx, ev.TabID)
}

func (c *Coordinator) handleTabUpdated(ev TabUpdated) {
	if ev.TabID == "" || ev.Status != "complete" {
		return
	}
	ctx := c.baseContext()
	if !c.panelOpen(ctx) || ev.URL == "" {
		return
	}
	logging.CoordinatorDebug("tab updated with panel open: %s", ev.URL)
	c.inject(ctx, ev.TabID)
}

func (c *Coordinator) panelOpen(ctx context.Context) bool {
	open, err := store.GetBool(ctx, c.kv, store.KeyPanelOpen)
	if err != nil {
		logging.CoordinatorWarn("read panelOpen: %v", err)
		return false
	}
	return open
}

func (c *Coordinator) inject(ctx context.Context, tabID string) {
	if err := c.injector.Inject(ctx, tabID); err != nil {
		logging.CoordinatorWarn("inject content script into %s: %v", tabID, err)
	}
}
