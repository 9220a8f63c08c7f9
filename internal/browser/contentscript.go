package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"sidepanel/internal/urlguard"
)

// bridgeJS installs window.__sidepanelBridge once per document. Re-running it
// on an already bridged page is a no-op.
const bridgeJS = `
() => {
	const w = window;
	if (w.__sidepanelBridge) return false;

	const collapse = (s) => (s || '').replace(/\s\s+/g, ' ');

	const pageContent = () => ({
		title: document.title || '',
		text: collapse(document.body ? document.body.innerText : ''),
		html: document.body ? document.body.innerHTML : ''
	});

	const altTexts = () => Array.from(document.images || [])
		.map((img) => (img.alt || '').trim())
		.filter((alt) => alt.length > 0);

	const tableData = () => Array.from(document.querySelectorAll('table')).map((table) =>
		Array.from(table.rows).map((row) =>
			Array.from(row.cells).map((cell) => collapse(cell.innerText).trim())
		).filter((cells) => cells.length > 0)
	);

	w.__sidepanelBridge = {
		handle(msg) {
			if (msg && msg.type === 'GET_PAGE_CONTENT') return pageContent();
			return null;
		},
		snapshot() {
			return Object.assign(pageContent(), { altTexts: altTexts(), tableData: tableData() });
		}
	};
	return true;
}
`

// sendJS dispatches a runtime message to the bridge.
const sendJS = `
(raw) => {
	const bridge = window.__sidepanelBridge;
	if (!bridge) return { __missing: true };
	return bridge.handle(JSON.parse(raw));
}
`

const snapshotJS = `
() => {
	const bridge = window.__sidepanelBridge;
	if (!bridge) return { __missing: true };
	return bridge.snapshot();
}
`

const visibilityJS = `
() => ({
	visible: document.visibilityState === 'visible',
	focused: typeof document.hasFocus === 'function' && document.hasFocus(),
	ready: document.readyState
})
`

// PageContent is the GET_PAGE_CONTENT reply.
type PageContent struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	HTML  string `json:"html"`
}

// Snapshot is PageContent plus the extracted image alt texts and tables.
type Snapshot struct {
	PageContent
	AltTexts  []string     `json:"altTexts"`
	TableData [][][]string `json:"tableData"`
}

// skipInjection reports pages that content scripts cannot run on.
func skipInjection(url string) bool {
	return url == "" || urlguard.IsRestricted(url) || strings.Contains(url, "chrome.google.com")
}

// errBridgeMissing means the page navigated since the last injection.
var errBridgeMissing = fmt.Errorf("content script not installed")

func decodeReply(raw []byte, out any) error {
	var probe struct {
		Missing bool `json:"__missing"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Missing {
		return errBridgeMissing
	}
	if string(raw) == "null" {
		return fmt.Errorf("no reply for message")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode page reply: %w", err)
	}
	return nil
}

type visibility struct {
	Visible bool   `json:"visible"`
	Focused bool   `json:"focused"`
	Ready   string `json:"ready"`
}

// rank orders candidate active tabs: focused, then visible.
func (v visibility) rank() int {
	switch {
	case v.Focused:
		return 2
	case v.Visible:
		return 1
	default:
		return 0
	}
}
