package port

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

func TestPort_DeliversInOrder(t *testing.T) {
	local, remote := Connect(SidePanelPort)
	defer local.Disconnect()

	got := make(chan Message, 3)
	remote.OnMessage(func(m Message) { got <- m })

	for _, typ := range []string{"a", "b", "c"} {
		require.NoError(t, local.PostMessage(Message{Type: typ}))
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case m := <-got:
			assert.Equal(t, want, m.Type)
		case <-time.After(wait):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	require.Equal(t, SidePanelPort, remote.Name())
}

func TestPort_DisconnectRunsHandlersOnceOnBothSides(t *testing.T) {
	local, remote := Connect(ContentPort)

	var mu sync.Mutex
	calls := map[string]int{}
	local.OnDisconnect(func() { mu.Lock(); calls["local"]++; mu.Unlock() })
	remote.OnDisconnect(func() { mu.Lock(); calls["remote"]++; mu.Unlock() })

	local.Disconnect()
	local.Disconnect()
	<-local.Done()
	<-remote.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"local": 1, "remote": 1}, calls)

	require.ErrorIs(t, local.PostMessage(Init()), ErrClosed)
	require.ErrorIs(t, remote.PostMessage(Init()), ErrClosed)
}

func TestPort_RemoveInsideDisconnectHandler(t *testing.T) {
	local, remote := Connect(SidePanelPort)

	removeMsg := remote.OnMessage(func(Message) {})
	remote.OnDisconnect(func() { removeMsg() })
	require.Equal(t, 1, remote.HandlerCount())

	local.Disconnect()
	<-remote.Done()
	require.Equal(t, 0, remote.HandlerCount())
}

func TestPort_ReplyFromHandler(t *testing.T) {
	local, remote := Connect(SidePanelPort)
	defer local.Disconnect()

	remote.OnMessage(func(m Message) {
		if m.Type == TypeInit {
			_ = remote.PostMessage(HandleInit())
		}
	})
	reply := make(chan Message, 1)
	local.OnMessage(func(m Message) { reply <- m })

	require.NoError(t, local.PostMessage(Init()))
	select {
	case m := <-reply:
		assert.Equal(t, HandleInit(), m)
	case <-time.After(wait):
		t.Fatal("no handshake reply")
	}
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("content-port"))
	assert.True(t, ValidName("side-panel-port"))
	assert.False(t, ValidName("other"))
}

func TestWebsocketPort_Handshake(t *testing.T) {
	accepted := make(chan *Port, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := Accept(w, r, SidePanelPort, func(p *Port) {
			p.OnMessage(func(m Message) {
				if m.Type == TypeInit {
					_ = p.PostMessage(HandleInit())
				}
			})
		})
		if !assert.NoError(t, err) {
			return
		}
		accepted <- p
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	reply := make(chan Message, 1)
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), SidePanelPort, func(p *Port) {
		p.OnMessage(func(m Message) { reply <- m })
	})
	require.NoError(t, err)

	server := <-accepted
	require.NoError(t, client.PostMessage(Init()))

	select {
	case m := <-reply:
		assert.Equal(t, TypeHandleInit, m.Type)
		assert.Equal(t, PanelOpen, m.Message)
	case <-time.After(wait):
		t.Fatal("no handshake reply over websocket")
	}

	serverGone := make(chan struct{})
	server.OnDisconnect(func() { close(serverGone) })
	client.Disconnect()
	select {
	case <-serverGone:
	case <-time.After(wait):
		t.Fatal("server side did not observe disconnect")
	}
	<-client.Done()
	<-server.Done()
}

func TestCheckOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                          true,
		"chrome-extension://abcdef": true,
		"http://localhost:5173":     true,
		"http://127.0.0.1:7420":     true,
		"https://evil.example.com":  false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/port/x", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, checkOrigin(r), origin)
	}
}
