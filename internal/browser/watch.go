package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"sidepanel/internal/coordinator"
	"sidepanel/internal/logging"
)

// subscription owns the goroutines feeding one set of tab handlers.
type subscription struct {
	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *subscription) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Close stops delivery and waits for in-flight handlers.
func (s *subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// Watch streams tab activation and load events to h until the returned
// subscription is closed. URL changes come from target info events; the
// active tab is polled since CDP has no activation event.
func (m *Manager) Watch(h coordinator.TabHandlers) (coordinator.Subscription, error) {
	b, base, err := m.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(base)
	sub := &subscription{cancel: cancel}

	urls := make(map[string]string)
	if tabs, err := m.Tabs(ctx); err == nil {
		for _, t := range tabs {
			urls[t.ID] = t.URL
		}
	}
	var urlsMu sync.Mutex

	wait := b.Context(ctx).EachEvent(
		func(ev *proto.TargetTargetInfoChanged) {
			info := ev.TargetInfo
			if info == nil || info.Type != proto.TargetTargetInfoTypePage {
				return
			}
			id := string(info.TargetID)
			urlsMu.Lock()
			prev, seen := urls[id]
			urls[id] = info.URL
			urlsMu.Unlock()
			if seen && prev == info.URL {
				return
			}
			sub.spawn(func() { m.awaitLoad(ctx, id, info.URL, h) })
		},
		func(ev *proto.TargetTargetDestroyed) {
			urlsMu.Lock()
			delete(urls, string(ev.TargetID))
			urlsMu.Unlock()
		},
	)
	sub.spawn(wait)
	sub.spawn(func() { m.pollActive(ctx, h) })

	logging.BrowserDebug("tab watch started")
	return sub, nil
}

func (m *Manager) awaitLoad(ctx context.Context, tabID, url string, h coordinator.TabHandlers) {
	if h.OnUpdated == nil {
		return
	}
	h.OnUpdated(coordinator.TabUpdated{TabID: tabID, Status: "loading", URL: url})

	page, err := m.findPage(ctx, tabID)
	if err != nil {
		logging.BrowserDebug("tab %s vanished before load: %v", tabID, err)
		return
	}
	if err := page.Context(ctx).Timeout(m.cfg.navigationTimeout()).WaitLoad(); err != nil {
		logging.BrowserDebug("wait load %s: %v", url, err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	h.OnUpdated(coordinator.TabUpdated{TabID: tabID, Status: "complete", URL: url})
}

func (m *Manager) pollActive(ctx context.Context, h coordinator.TabHandlers) {
	if h.OnActivated == nil {
		return
	}
	last := ""
	if tab, ok, err := m.ActiveTab(ctx); err == nil && ok {
		last = tab.ID
	}
	ticker := time.NewTicker(m.cfg.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tab, ok, err := m.ActiveTab(ctx)
		if err != nil || !ok || tab.ID == last {
			continue
		}
		last = tab.ID
		if ctx.Err() != nil {
			return
		}
		h.OnActivated(coordinator.TabActivated{TabID: tab.ID})
	}
}
