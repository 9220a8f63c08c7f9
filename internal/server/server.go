// Package server exposes the daemon over HTTP: websocket message ports for
// panel and content contexts, a streamed chat endpoint, model discovery and
// coordinator state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sidepanel/internal/assistant"
	"sidepanel/internal/browser"
	"sidepanel/internal/chat"
	"sidepanel/internal/config"
	"sidepanel/internal/coordinator"
	"sidepanel/internal/logging"
	"sidepanel/internal/port"
	"sidepanel/internal/provider"
	"sidepanel/internal/stream"
)

const heartbeatInterval = 15 * time.Second

// Assistant runs sends and page refreshes.
type Assistant interface {
	Send(ctx context.Context, req assistant.SendRequest, on func(assistant.Update)) (*chat.Session, error)
	Model(ctx context.Context) (provider.Model, error)
	RefreshPage(ctx context.Context) (browser.Snapshot, error)
}

// Coordinator owns port lifecycles.
type Coordinator interface {
	OnConnect(p *port.Port)
	State(ctx context.Context) coordinator.State
}

// Discoverer lists models.
type Discoverer interface {
	Discover(ctx context.Context, creds provider.Credentials) ([]provider.Model, []provider.Status)
}

// Titler names conversations.
type Titler interface {
	Generate(ctx context.Context, model provider.Model, creds provider.Credentials, user, reply string) (string, error)
}

// Server is the daemon's HTTP surface.
type Server struct {
	assistant Assistant
	coord     Coordinator
	discovery Discoverer
	titles    Titler
	config    func() *config.Config
}

// NewServer wires the handlers. titles may be nil to disable title events.
func NewServer(a Assistant, coord Coordinator, discovery Discoverer, titles Titler, conf func() *config.Config) *Server {
	return &Server{
		assistant: a,
		coord:     coord,
		discovery: discovery,
		titles:    titles,
		config:    conf,
	}
}

// Router returns the chi router with every route and middleware mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.health)
	r.Get("/port/{name}", s.connectPort)
	r.Post("/api/chat", s.chat)
	r.Get("/api/models", s.listModels)
	r.Get("/api/state", s.state)
	r.Get("/api/page", s.page)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/health" {
			return
		}
		logging.ServerDebug("%s %s -> %d in %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) connectPort(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !port.ValidName(name) {
		http.Error(w, fmt.Sprintf("unknown port %q", name), http.StatusNotFound)
		return
	}
	if _, err := port.Accept(w, r, name, s.coord.OnConnect); err != nil {
		logging.ServerWarn("port %s: %v", name, err)
	}
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.coord.State(r.Context()))
}

type modelsResponse struct {
	Models   []provider.Model  `json:"models"`
	Statuses []provider.Status `json:"statuses"`
	Selected string            `json:"selected"`
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	models, statuses := s.discovery.Discover(r.Context(), cfg.Credentials())
	if models == nil {
		models = []provider.Model{}
	}
	writeJSON(w, modelsResponse{
		Models:   models,
		Statuses: statuses,
		Selected: provider.SelectModel(models, cfg.Chat.SelectedModel),
	})
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	snap, err := s.assistant.RefreshPage(r.Context())
	if errors.Is(err, assistant.ErrNoPage) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, snap.PageContent)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req assistant.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	updates := make(chan assistant.Update, 64)
	sess, err := s.assistant.Send(ctx, req, func(u assistant.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	})
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, assistant.ErrNoModel):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	case sess == nil:
		http.Error(w, "request dropped", http.StatusUnprocessableEntity)
		return
	}
	defer sess.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	emit := func(u assistant.Update) bool {
		event := "message"
		if u.Annotation != "" {
			event = "annotation"
		}
		sendSSE(w, event, u)
		flusher.Flush()
		if u.Final {
			s.sendTitle(ctx, w, req, u.Text)
			flusher.Flush()
		}
		return u.Final
	}

	for {
		select {
		case u := <-updates:
			if emit(u) {
				return
			}
		case <-sess.Done():
			// A superseded session ends without a final update.
			for {
				select {
				case u := <-updates:
					if emit(u) {
						return
					}
				default:
					logging.ServerDebug("session %s ended without a final update", sess.ID)
					return
				}
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			logging.ServerDebug("chat client went away, cancelling session %s", sess.ID)
			return
		}
	}
}

// sendTitle emits a title event after the first exchange of a conversation.
func (s *Server) sendTitle(ctx context.Context, w http.ResponseWriter, req assistant.SendRequest, reply string) {
	cfg := s.config()
	if s.titles == nil || !cfg.Chat.GenerateTitle || len(req.History) > 0 {
		return
	}
	if reply == "" || strings.HasPrefix(reply, stream.ErrorText("")) {
		return
	}
	model, err := s.assistant.Model(ctx)
	if err != nil {
		return
	}
	title, err := s.titles.Generate(ctx, model, cfg.Credentials(), req.Message, reply)
	if err != nil {
		return
	}
	sendSSE(w, "title", map[string]string{"title": title})
}

func sendSSE(w http.ResponseWriter, event string, value any) {
	payload, _ := json.Marshal(value)
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logging.Server("listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
