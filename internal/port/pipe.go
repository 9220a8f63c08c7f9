package port

import (
	"context"
	"sync"
)

const pipeBuffer = 64

type pipeShared struct {
	once   sync.Once
	closed chan struct{}
}

type pipeEnd struct {
	in     chan Message
	out    chan Message
	shared *pipeShared
}

// Pipe returns two connected in-memory Conns. Closing either end closes both.
func Pipe() (Conn, Conn) {
	a := make(chan Message, pipeBuffer)
	b := make(chan Message, pipeBuffer)
	shared := &pipeShared{closed: make(chan struct{})}
	return &pipeEnd{in: a, out: b, shared: shared}, &pipeEnd{in: b, out: a, shared: shared}
}

// Connect builds a port pair over a Pipe: local is the caller's side, remote
// is handed to the accepting side.
func Connect(name string) (local, remote *Port) {
	l, r := Pipe()
	return New(name, l), New(name, r)
}

func (e *pipeEnd) Send(m Message) error {
	select {
	case <-e.shared.closed:
		return ErrClosed
	default:
	}
	select {
	case e.out <- m:
		return nil
	case <-e.shared.closed:
		return ErrClosed
	}
}

func (e *pipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-e.in:
		return m, nil
	case <-e.shared.closed:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (e *pipeEnd) Close() error {
	e.shared.once.Do(func() { close(e.shared.closed) })
	return nil
}
