package port

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sidepanel/internal/logging"
)

const writeWait = 10 * time.Second

type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebsocketConn adapts an established websocket.
func NewWebsocketConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(m); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Receive skips frames that are not a JSON message envelope.
func (c *wsConn) Receive(_ context.Context) (Message, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			logging.ServerDebug("dropping malformed port frame: %v", err)
			continue
		}
		return m, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin admits non-browser clients and loopback or extension origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || strings.HasPrefix(origin, "chrome-extension://") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Accept upgrades an HTTP request into a named port. setup runs before the
// first message is read.
func Accept(w http.ResponseWriter, r *http.Request, name string, setup ...func(*Port)) (*Port, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade port %s: %w", name, err)
	}
	logging.Server("port %s connected from %s", name, r.RemoteAddr)
	return New(name, NewWebsocketConn(ws), setup...), nil
}

// Dial connects to a daemon port endpoint, e.g. ws://127.0.0.1:7420/port/side-panel-port.
func Dial(ctx context.Context, endpoint, name string, setup ...func(*Port)) (*Port, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial port %s: %w", name, err)
	}
	return New(name, NewWebsocketConn(ws), setup...), nil
}
