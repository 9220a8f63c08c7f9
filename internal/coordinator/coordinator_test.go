package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidepanel/internal/port"
	"sidepanel/internal/store"
)

const wait = 2 * time.Second

type fakeSub struct {
	tabs   *fakeTabs
	closed bool
}

func (s *fakeSub) Close() {
	s.tabs.mu.Lock()
	defer s.tabs.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for i, h := range s.tabs.live {
		if h.sub == s {
			s.tabs.live = append(s.tabs.live[:i], s.tabs.live[i+1:]...)
			break
		}
	}
}

type watcher struct {
	sub *fakeSub
	h   TabHandlers
}

type fakeTabs struct {
	mu       sync.Mutex
	active   Tab
	hasTab   bool
	watchErr error
	watches  int
	live     []watcher
}

func (f *fakeTabs) ActiveTab(context.Context) (Tab, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.hasTab, nil
}

func (f *fakeTabs) Watch(h TabHandlers) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watches++
	s := &fakeSub{tabs: f}
	f.live = append(f.live, watcher{sub: s, h: h})
	return s, nil
}

func (f *fakeTabs) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeTabs) activate(id string) {
	f.mu.Lock()
	live := append([]watcher(nil), f.live...)
	f.mu.Unlock()
	for _, w := range live {
		w.h.OnActivated(TabActivated{TabID: id})
	}
}

func (f *fakeTabs) update(ev TabUpdated) {
	f.mu.Lock()
	live := append([]watcher(nil), f.live...)
	f.mu.Unlock()
	for _, w := range live {
		w.h.OnUpdated(ev)
	}
}

type fakeInjector struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeInjector) Inject(_ context.Context, tabID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tabID)
	return f.err
}

func (f *fakeInjector) injected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	kv       *store.Memory
	tabs     *fakeTabs
	injector *fakeInjector
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		kv:       store.NewMemory(),
		tabs:     &fakeTabs{active: Tab{ID: "42", URL: "https://example.com"}, hasTab: true},
		injector: &fakeInjector{},
	}
	h.coord = New(h.kv, h.tabs, h.injector)
	require.NoError(t, h.coord.Start(context.Background()))
	return h
}

// openPanel connects a side-panel port, sends init and waits for the reply.
func (h *harness) openPanel(t *testing.T, inits int) (panel, background *port.Port) {
	t.Helper()
	panel, background = port.Connect(port.SidePanelPort)
	h.coord.OnConnect(background)

	replies := make(chan port.Message, inits)
	panel.OnMessage(func(m port.Message) { replies <- m })
	for i := 0; i < inits; i++ {
		require.NoError(t, panel.PostMessage(port.Init()))
	}
	for i := 0; i < inits; i++ {
		select {
		case m := <-replies:
			require.Equal(t, port.HandleInit(), m)
		case <-time.After(wait):
			t.Fatalf("no handle-init reply %d", i)
		}
	}
	return panel, background
}

func closePanel(t *testing.T, panel, background *port.Port) {
	t.Helper()
	panel.Disconnect()
	select {
	case <-background.Done():
	case <-time.After(wait):
		t.Fatal("background port did not observe disconnect")
	}
}

func TestStart_ResetsPanelOpen(t *testing.T) {
	kv := store.NewMemory()
	require.NoError(t, kv.SetItem(context.Background(), store.KeyPanelOpen, true))
	c := New(kv, &fakeTabs{}, &fakeInjector{})
	require.NoError(t, c.Start(context.Background()))

	v, err := kv.GetItem(context.Background(), store.KeyPanelOpen)
	require.NoError(t, err)
	assert.Equal(t, "false", v)
}

func TestInit_InjectsActiveTabAndReplies(t *testing.T) {
	h := newHarness(t)
	panel, background := h.openPanel(t, 1)

	assert.Equal(t, []string{"42"}, h.injector.injected())
	st := h.coord.State(context.Background())
	assert.True(t, st.PanelOpen)
	assert.True(t, st.TabListenersActive)

	closePanel(t, panel, background)
}

func TestInit_TwiceRegistersListenersOnce(t *testing.T) {
	h := newHarness(t)
	panel, background := h.openPanel(t, 2)

	h.tabs.mu.Lock()
	watches := h.tabs.watches
	h.tabs.mu.Unlock()
	assert.Equal(t, 1, watches)
	assert.Equal(t, 1, h.tabs.liveCount())

	closePanel(t, panel, background)
}

func TestDisconnect_ReleasesListenersAndHandler(t *testing.T) {
	h := newHarness(t)
	panel, background := h.openPanel(t, 1)
	require.Equal(t, 1, background.HandlerCount())

	closePanel(t, panel, background)

	st := h.coord.State(context.Background())
	assert.False(t, st.PanelOpen)
	assert.False(t, st.TabListenersActive)
	assert.Equal(t, 0, h.tabs.liveCount())
	assert.Equal(t, 0, background.HandlerCount())
}

func TestRepeatedOpenClose_DoesNotLeakListeners(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		panel, background := h.openPanel(t, 1)
		require.Equal(t, 1, h.tabs.liveCount())
		closePanel(t, panel, background)
		require.Equal(t, 0, h.tabs.liveCount())
	}
}

func TestTabEvents_InjectOnlyWhileOpen(t *testing.T) {
	h := newHarness(t)
	panel, background := h.openPanel(t, 1)

	h.tabs.activate("7")
	h.tabs.update(TabUpdated{TabID: "8", Status: "loading", URL: "https://a.example"})
	h.tabs.update(TabUpdated{TabID: "9", Status: "complete"})
	h.tabs.update(TabUpdated{TabID: "10", Status: "complete", URL: "https://b.example"})
	assert.Equal(t, []string{"42", "7", "10"}, h.injector.injected())

	closePanel(t, panel, background)
	h.tabs.activate("11")
	assert.Equal(t, []string{"42", "7", "10"}, h.injector.injected())
}

func TestTabEvents_IgnoredWhenFlagClearedExternally(t *testing.T) {
	h := newHarness(t)
	panel, background := h.openPanel(t, 1)

	require.NoError(t, h.kv.SetItem(context.Background(), store.KeyPanelOpen, false))
	h.tabs.activate("7")
	assert.Equal(t, []string{"42"}, h.injector.injected())

	closePanel(t, panel, background)
}

func TestContentPort_IgnoredAndDisconnectKeepsPanelOpen(t *testing.T) {
	h := newHarness(t)
	panel, background := h.openPanel(t, 1)

	content, contentBackground := port.Connect(port.ContentPort)
	h.coord.OnConnect(contentBackground)
	require.NoError(t, content.PostMessage(port.Init()))
	closePanel(t, content, contentBackground)

	assert.Equal(t, []string{"42"}, h.injector.injected())
	st := h.coord.State(context.Background())
	assert.True(t, st.PanelOpen)
	assert.True(t, st.TabListenersActive)
	assert.Equal(t, 0, contentBackground.HandlerCount())

	closePanel(t, panel, background)
}

func TestOtherMessagesAreIgnored(t *testing.T) {
	h := newHarness(t)
	panel, background := port.Connect(port.SidePanelPort)
	h.coord.OnConnect(background)

	require.NoError(t, panel.PostMessage(port.Message{Type: "ping"}))
	closePanel(t, panel, background)

	assert.Empty(t, h.injector.injected())
	assert.Equal(t, 0, h.tabs.liveCount())
}

func TestInjectionFailure_DoesNotAlterState(t *testing.T) {
	h := newHarness(t)
	h.injector.err = errors.New("cannot access a chrome:// URL")
	panel, background := h.openPanel(t, 1)

	st := h.coord.State(context.Background())
	assert.True(t, st.PanelOpen)
	assert.True(t, st.TabListenersActive)

	closePanel(t, panel, background)
}

func TestWatchFailure_StillReplies(t *testing.T) {
	h := newHarness(t)
	h.tabs.watchErr = errors.New("browser gone")
	panel, background := h.openPanel(t, 1)

	assert.False(t, h.coord.State(context.Background()).TabListenersActive)
	closePanel(t, panel, background)
}
