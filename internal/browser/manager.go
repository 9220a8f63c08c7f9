// Package browser drives Chrome over the DevTools protocol for the daemon:
// it reports the active tab, streams tab activation and load events,
// installs the page bridge (the content script) and answers runtime
// requests such as GET_PAGE_CONTENT.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"sidepanel/internal/coordinator"
	"sidepanel/internal/logging"
	"sidepanel/internal/port"
)

var (
	// ErrUnknownTab is returned for a tab id that is not an open page.
	ErrUnknownTab = errors.New("unknown tab")
	// ErrNotConnected is returned before Start succeeds.
	ErrNotConnected = errors.New("browser not connected")
	// ErrRestricted is returned when a runtime request targets a page the
	// bridge cannot run on.
	ErrRestricted = errors.New("restricted page")
)

// Config holds browser configuration.
type Config struct {
	DebuggerURL       string
	Launch            bool
	Bin               string
	Flags             []string
	Headless          bool
	PollInterval      time.Duration
	NavigationTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Launch:            true,
		PollInterval:      500 * time.Millisecond,
		NavigationTimeout: 30 * time.Second,
	}
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return 500 * time.Millisecond
	}
	return c.PollInterval
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// Manager owns the Chrome connection.
type Manager struct {
	cfg Config

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	launched   bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewManager creates a manager. Nothing connects until Start.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting...")
		m.closeLocked()
	}

	controlURL := m.cfg.DebuggerURL
	launched := false
	if controlURL == "" {
		if !m.cfg.Launch {
			return fmt.Errorf("no debugger_url configured and launch disabled")
		}
		u, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = u
		launched = true
	}

	bctx, cancel := context.WithCancel(ctx)
	browser := rod.New().ControlURL(controlURL).Context(bctx)
	if err := browser.Connect(); err != nil {
		cancel()
		return fmt.Errorf("connect to chrome: %w", err)
	}
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(browser); err != nil {
		logging.BrowserWarn("target discovery unavailable: %v", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.launched = launched
	m.ctx = bctx
	m.cancel = cancel
	logging.Browser("Connected to Chrome at %s (launched=%v)", controlURL, launched)
	return nil
}

func (m *Manager) launch() (string, error) {
	l := launcher.New().Headless(m.cfg.Headless)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	for _, raw := range m.cfg.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	u, err := l.Launch()
	if err == nil {
		return u, nil
	}
	// Retry without custom flags.
	fallback := launcher.New().Headless(m.cfg.Headless)
	if m.cfg.Bin != "" {
		fallback = fallback.Bin(m.cfg.Bin)
	}
	alt, altErr := fallback.Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes a launched browser or detaches from an external one.
func (m *Manager) Shutdown(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	var err error
	if m.browser != nil && m.launched {
		err = m.browser.Close()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.browser = nil
	m.controlURL = ""
	m.launched = false
	m.cancel = nil
	return err
}

func (m *Manager) current() (*rod.Browser, context.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.browser == nil {
		return nil, nil, ErrNotConnected
	}
	return m.browser, m.ctx, nil
}

// Open creates a tab at url and waits for it to load.
func (m *Manager) Open(ctx context.Context, url string) (coordinator.Tab, error) {
	b, _, err := m.current()
	if err != nil {
		return coordinator.Tab{}, err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return coordinator.Tab{}, fmt.Errorf("create page: %w", err)
	}
	if err := page.Context(ctx).Timeout(m.cfg.navigationTimeout()).WaitLoad(); err != nil {
		logging.BrowserWarn("page %s did not finish loading: %v", url, err)
	}
	return tabOf(page), nil
}

// Tabs lists open pages.
func (m *Manager) Tabs(ctx context.Context) ([]coordinator.Tab, error) {
	b, _, err := m.current()
	if err != nil {
		return nil, err
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	tabs := make([]coordinator.Tab, 0, len(pages))
	for _, p := range pages {
		tabs = append(tabs, tabOf(p))
	}
	return tabs, nil
}

func tabOf(p *rod.Page) coordinator.Tab {
	tab := coordinator.Tab{ID: string(p.TargetID)}
	if info, err := p.Info(); err == nil {
		tab.URL = info.URL
		tab.Title = info.Title
	}
	return tab
}

func (m *Manager) findPage(ctx context.Context, tabID string) (*rod.Page, error) {
	b, _, err := m.current()
	if err != nil {
		return nil, err
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		if string(p.TargetID) == tabID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
}

// ActiveTab returns the focused tab, else the first visible one.
func (m *Manager) ActiveTab(ctx context.Context) (coordinator.Tab, bool, error) {
	b, _, err := m.current()
	if err != nil {
		return coordinator.Tab{}, false, err
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return coordinator.Tab{}, false, fmt.Errorf("list pages: %w", err)
	}
	var best *rod.Page
	bestRank := -1
	for _, p := range pages {
		var v visibility
		if raw, err := evalJSON(ctx, p, visibilityJS); err == nil {
			_ = json.Unmarshal(raw, &v)
		}
		if r := v.rank(); r > bestRank {
			best, bestRank = p, r
		}
	}
	if best == nil {
		return coordinator.Tab{}, false, nil
	}
	return tabOf(best), true, nil
}

// Inject installs the page bridge. Restricted pages are skipped silently.
func (m *Manager) Inject(ctx context.Context, tabID string) error {
	page, err := m.findPage(ctx, tabID)
	if err != nil {
		return err
	}
	return m.injectPage(ctx, page)
}

func (m *Manager) injectPage(ctx context.Context, page *rod.Page) error {
	info, err := page.Info()
	if err != nil {
		return fmt.Errorf("page info: %w", err)
	}
	if skipInjection(info.URL) {
		logging.BrowserDebug("Skipping restricted URL: %s", info.URL)
		return nil
	}
	raw, err := evalJSON(ctx, page, bridgeJS)
	if err != nil {
		return fmt.Errorf("inject content script: %w", err)
	}
	if string(raw) == "true" {
		logging.BrowserDebug("content script installed in %s", info.URL)
	}
	return nil
}

// SendMessage delivers a runtime message to the tab's bridge and returns the
// raw JSON reply. The bridge is installed on demand.
func (m *Manager) SendMessage(ctx context.Context, tabID string, msg port.Message) (json.RawMessage, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var reply json.RawMessage
	if err := m.callBridge(ctx, tabID, sendJS, &reply, string(payload)); err != nil {
		return nil, err
	}
	return reply, nil
}

// PageContent answers GET_PAGE_CONTENT for a tab.
func (m *Manager) PageContent(ctx context.Context, tabID string) (PageContent, error) {
	var pc PageContent
	raw, err := m.SendMessage(ctx, tabID, port.Message{Type: port.TypeGetPageContent})
	if err != nil {
		return pc, err
	}
	if err := json.Unmarshal(raw, &pc); err != nil {
		return pc, fmt.Errorf("decode page content: %w", err)
	}
	return pc, nil
}

// Snapshot returns the page content with alt texts and table data.
func (m *Manager) Snapshot(ctx context.Context, tabID string) (Snapshot, error) {
	var s Snapshot
	err := m.callBridge(ctx, tabID, snapshotJS, &s)
	return s, err
}

func (m *Manager) callBridge(ctx context.Context, tabID, js string, out any, args ...interface{}) error {
	page, err := m.findPage(ctx, tabID)
	if err != nil {
		return err
	}
	if info, err := page.Info(); err == nil && skipInjection(info.URL) {
		logging.BrowserDebug("runtime request to restricted URL %s skipped", info.URL)
		return fmt.Errorf("%w: %s", ErrRestricted, info.URL)
	}
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := evalJSON(ctx, page, js, args...)
		if err != nil {
			return fmt.Errorf("runtime request: %w", err)
		}
		err = decodeReply(raw, out)
		if !errors.Is(err, errBridgeMissing) {
			return err
		}
		if err := m.injectPage(ctx, page); err != nil {
			return err
		}
	}
	return errBridgeMissing
}

func evalJSON(ctx context.Context, page *rod.Page, js string, args ...interface{}) ([]byte, error) {
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("empty evaluation result")
	}
	return res.Value.MarshalJSON()
}
