// Package port implements named, bidirectional message ports between the
// daemon and panel or content contexts.
//
// A Port dispatches inbound messages on a single goroutine in arrival order,
// then runs its disconnect handlers exactly once on that same goroutine after
// the last message. Handlers therefore never race each other on one port.
package port

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Channel names.
const (
	ContentPort   = "content-port"
	SidePanelPort = "side-panel-port"
)

// Message types.
const (
	TypeInit           = "init"
	TypeHandleInit     = "handle-init"
	TypeGetPageContent = "GET_PAGE_CONTENT"
)

// PanelOpen is the text carried by the handshake acknowledgment.
const PanelOpen = "panel open"

// ErrClosed is returned when posting to a disconnected port.
var ErrClosed = errors.New("port closed")

// Message is the in-band envelope.
type Message struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Init returns the panel handshake request.
func Init() Message { return Message{Type: TypeInit} }

// HandleInit returns the handshake acknowledgment.
func HandleInit() Message { return Message{Type: TypeHandleInit, Message: PanelOpen} }

// ValidName reports whether name is a known channel.
func ValidName(name string) bool {
	return name == ContentPort || name == SidePanelPort
}

// Conn is one end of a message transport.
type Conn interface {
	Send(m Message) error
	// Receive blocks for the next message. Any error ends the port.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Port is a named channel over a Conn. It is never reused after disconnect.
type Port struct {
	name string
	conn Conn

	mu           sync.Mutex
	nextID       int
	msgHandlers  map[int]func(Message)
	discHandlers map[int]func()
	order        []int
	closed       bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New wraps conn and starts dispatching. setup runs before the first
// message is read, so handlers registered there observe every message.
func New(name string, conn Conn, setup ...func(*Port)) *Port {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		name:         name,
		conn:         conn,
		msgHandlers:  make(map[int]func(Message)),
		discHandlers: make(map[int]func()),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, fn := range setup {
		fn(p)
	}
	go p.readLoop(ctx)
	return p
}

// Name returns the channel name.
func (p *Port) Name() string { return p.name }

// PostMessage sends m to the peer.
func (p *Port) PostMessage(m Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return p.conn.Send(m)
}

// OnMessage registers fn and returns a function that removes it.
func (p *Port) OnMessage(fn func(Message)) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.add()
	p.msgHandlers[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.msgHandlers, id)
		p.mu.Unlock()
	}
}

// OnDisconnect registers fn to run once when the port closes.
func (p *Port) OnDisconnect(fn func()) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.add()
	p.discHandlers[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.discHandlers, id)
		p.mu.Unlock()
	}
}

// HandlerCount returns the number of registered message handlers.
func (p *Port) HandlerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgHandlers)
}

// Disconnect closes the port. Disconnect handlers run asynchronously on the
// dispatch goroutine; wait on Done to observe them.
func (p *Port) Disconnect() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	_ = p.conn.Close()
	p.cancel()
}

// Done is closed after the disconnect handlers have run.
func (p *Port) Done() <-chan struct{} { return p.done }

func (p *Port) add() int {
	p.nextID++
	p.order = append(p.order, p.nextID)
	return p.nextID
}

func (p *Port) readLoop(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()
	for {
		m, err := p.conn.Receive(ctx)
		if err != nil {
			p.shutdown()
			return
		}
		for _, fn := range p.snapshotMessage() {
			fn(m)
		}
	}
}

func (p *Port) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	_ = p.conn.Close()
	for _, fn := range p.snapshotDisconnect() {
		fn()
	}
}

// snapshot returns handlers in registration order so removal inside a
// handler does not disturb the current dispatch.
func (p *Port) snapshotMessage() []func(Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]func(Message), 0, len(p.msgHandlers))
	for _, id := range p.order {
		if fn, ok := p.msgHandlers[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (p *Port) snapshotDisconnect() []func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]func(), 0, len(p.discHandlers))
	for _, id := range p.order {
		if fn, ok := p.discHandlers[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
