package assistant

import (
	"context"
	"errors"
	"fmt"

	"sidepanel/internal/browser"
	"sidepanel/internal/coordinator"
	"sidepanel/internal/logging"
	"sidepanel/internal/store"
	"sidepanel/internal/urlguard"
)

// ErrNoPage is returned when there is no page to snapshot.
var ErrNoPage = errors.New("no scrapeable page")

// PageSource reads the focused tab.
type PageSource interface {
	ActiveTab(ctx context.Context) (coordinator.Tab, bool, error)
	Snapshot(ctx context.Context, tabID string) (browser.Snapshot, error)
}

// RefreshPage snapshots the active tab into the page keys of the store.
func (a *Assistant) RefreshPage(ctx context.Context) (browser.Snapshot, error) {
	if a.Pages == nil || a.Store == nil {
		return browser.Snapshot{}, ErrNoPage
	}
	tab, ok, err := a.Pages.ActiveTab(ctx)
	if err != nil {
		return browser.Snapshot{}, fmt.Errorf("active tab: %w", err)
	}
	if !ok {
		return browser.Snapshot{}, ErrNoPage
	}
	if urlguard.IsRestricted(tab.URL) {
		logging.BrowserDebug("page refresh skipped for %s", tab.URL)
		return browser.Snapshot{}, fmt.Errorf("%w: %s", ErrNoPage, tab.URL)
	}

	snap, err := a.Pages.Snapshot(ctx, tab.ID)
	if err != nil {
		return browser.Snapshot{}, fmt.Errorf("snapshot %s: %w", tab.URL, err)
	}

	items := []struct {
		key   string
		value any
	}{
		{store.KeyPageString, snap.Text},
		{store.KeyPageHTML, snap.HTML},
		{store.KeyAltTexts, nonNil(snap.AltTexts)},
		{store.KeyTableData, snap.TableData},
	}
	for _, it := range items {
		if err := a.Store.SetItem(ctx, it.key, it.value); err != nil {
			return snap, fmt.Errorf("store %s: %w", it.key, err)
		}
	}
	logging.Browser("page snapshot stored: %s (%d chars)", tab.URL, len(snap.Text))
	return snap, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
