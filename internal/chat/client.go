// Package chat runs streamed chat-completion exchanges against any
// registered provider and reports progress through a stream.Handler.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"sidepanel/internal/logging"
	"sidepanel/internal/provider"
	"sidepanel/internal/stream"
	"sidepanel/internal/urlguard"
)

// OriginRewriter installs the header-rewrite rule for a loopback target.
type OriginRewriter interface {
	UpdateOrigin(rawURL string) error
}

// Request describes one exchange.
type Request struct {
	// ConversationID scopes supersession: a new Send with the same
	// non-empty id cancels the previous in-flight session.
	ConversationID string
	URL            string
	Body           provider.ChatBody
	Headers        http.Header
	Provider       provider.ID
}

// Session is one in-flight exchange.
type Session struct {
	ID             string
	ConversationID string

	emitter *stream.Emitter
	cancel  context.CancelFunc
	done    chan struct{}
}

// Cancel stops the session without blocking. Once Cancel returns no new
// callback is delivered, apart from one already running on the session
// goroutine, and the final callback never arrives. It is safe to call from
// inside the session's own handler.
func (s *Session) Cancel() {
	s.emitter.Close()
	s.cancel()
}

// Done is closed once the session's goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has exited.
func (s *Session) Wait() {
	<-s.done
}

// Client issues streamed requests. It is safe for concurrent use.
type Client struct {
	registry *provider.Registry
	http     *http.Client
	rules    OriginRewriter

	mu       sync.Mutex
	active   map[string]*Session // by conversation
	sessions map[string]*Session // by session id
	wg       sync.WaitGroup
}

// NewClient returns a Client. httpClient must not set a Timeout; chat
// streams rely on the transport closing. rules may be nil.
func NewClient(reg *provider.Registry, httpClient *http.Client, rules OriginRewriter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		registry: reg,
		http:     httpClient,
		rules:    rules,
		active:   make(map[string]*Session),
		sessions: make(map[string]*Session),
	}
}

// Send starts an exchange and returns immediately; all results arrive via
// onMessage, which sees growing text and exactly one final call unless the
// session is cancelled. Requests to browser-internal URLs are dropped
// without any callback and Send returns nil. onMessage may cancel its own
// session or Send a superseding request; it must not call Close.
func (c *Client) Send(ctx context.Context, req Request, onMessage stream.Handler) *Session {
	if urlguard.IsRestricted(req.URL) {
		logging.StreamDebug("dropping request to restricted url %s", req.URL)
		return nil
	}

	if urlguard.IsLoopback(req.URL) && c.rules != nil {
		if err := c.rules.UpdateOrigin(urlguard.Clean(req.URL)); err != nil {
			logging.StreamDebug("origin rule skipped for %s: %v", req.URL, err)
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		emitter:        stream.NewEmitter(onMessage),
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	var prev *Session
	c.mu.Lock()
	c.sessions[sess.ID] = sess
	if req.ConversationID != "" {
		prev = c.active[req.ConversationID]
		c.active[req.ConversationID] = sess
	}
	c.mu.Unlock()
	if prev != nil {
		logging.StreamDebug("session %s superseded by %s", prev.ID, sess.ID)
		prev.Cancel()
	}

	logging.Stream("session %s started: provider=%s url=%s", sess.ID, req.Provider, req.URL)

	c.wg.Add(1)
	go c.run(sessCtx, sess, req)
	return sess
}

// Active returns the in-flight session for a conversation, if any.
func (c *Client) Active(conversationID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[conversationID]
}

// Close cancels every in-flight session and waits for them to exit.
func (c *Client) Close() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context, sess *Session, req Request) {
	defer c.wg.Done()
	defer close(sess.done)
	defer sess.cancel()
	defer c.release(sess)

	timer := logging.StartTimer(logging.CategoryStream, "session "+sess.ID)
	defer timer.Stop()

	desc, err := c.registry.Lookup(req.Provider)
	if err != nil {
		c.fail(ctx, sess, err)
		return
	}
	dec, err := stream.ForFormat(desc.WireFormat, desc.ErrorField)
	if err != nil {
		c.fail(ctx, sess, err)
		return
	}

	payload, err := json.Marshal(req.Body)
	if err != nil {
		c.fail(ctx, sess, fmt.Errorf("encode request: %w", err))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		c.fail(ctx, sess, fmt.Errorf("build request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header[k] = v
	}
	if desc.WireFormat != provider.WireNDJSON {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.fail(ctx, sess, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.fail(ctx, sess, fmt.Errorf("network response was not ok (status %s)", resp.Status))
		return
	}

	if err := dec.Decode(ctx, resp.Body, sess.emitter); err != nil {
		c.fail(ctx, sess, err)
		return
	}
	logging.StreamDebug("session %s finished with %d chars", sess.ID, len(sess.emitter.Text()))
}

// fail reports err as the session's error-final message, unless the session
// was cancelled, in which case it ends silently.
func (c *Client) fail(ctx context.Context, sess *Session, err error) {
	if ctx.Err() != nil {
		logging.StreamDebug("session %s cancelled: %v", sess.ID, err)
		sess.emitter.Close()
		return
	}
	logging.StreamError("session %s failed: %v", sess.ID, err)
	sess.emitter.Fail(stream.ErrorText(err.Error()))
}

func (c *Client) release(sess *Session) {
	c.mu.Lock()
	delete(c.sessions, sess.ID)
	if sess.ConversationID != "" && c.active[sess.ConversationID] == sess {
		delete(c.active, sess.ConversationID)
	}
	c.mu.Unlock()
}
