package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sidepanel/internal/logging"
)

// Model is a chat model offered by one backend.
type Model struct {
	ID   string `json:"id" yaml:"id"`
	Host ID     `json:"host" yaml:"host"`
}

// Status records whether a backend answered its model listing.
type Status struct {
	Provider  ID     `json:"provider"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Discovery lists models across every configured backend.
type Discovery struct {
	Registry *Registry
	Client   *http.Client
	Timeout  time.Duration
}

// NewDiscovery returns a Discovery over reg using client (nil means a
// default client).
func NewDiscovery(reg *Registry, client *http.Client) *Discovery {
	if client == nil {
		client = &http.Client{}
	}
	return &Discovery{Registry: reg, Client: client, Timeout: 10 * time.Second}
}

// Discover queries every configured backend concurrently. A backend that
// fails is reported as disconnected and contributes no models; it never
// fails the others. Models are returned in registry order.
func (d *Discovery) Discover(ctx context.Context, creds Credentials) ([]Model, []Status) {
	descs := d.Registry.All()
	results := make([][]Model, len(descs))
	statuses := make([]Status, len(descs))
	var mu sync.Mutex

	var g errgroup.Group
	for i, desc := range descs {
		if !desc.Configured(creds) {
			continue
		}
		g.Go(func() error {
			models, err := d.list(ctx, desc, creds)
			mu.Lock()
			defer mu.Unlock()
			statuses[i] = Status{Provider: desc.ID, Connected: err == nil}
			if err != nil {
				statuses[i].Error = err.Error()
				logging.APIWarn("model discovery for %s failed: %v", desc.ID, err)
				return nil
			}
			results[i] = models
			return nil
		})
	}
	_ = g.Wait()

	var models []Model
	var out []Status
	for i := range descs {
		if statuses[i].Provider == "" {
			continue
		}
		out = append(out, statuses[i])
		models = append(models, results[i]...)
	}
	return models, out
}

func (d *Discovery) list(ctx context.Context, desc Descriptor, creds Credentials) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.ModelsURL(creds), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range desc.Headers(creds) {
		req.Header[k] = v
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	var ids []string
	if desc.Kind == KindLocalDaemon {
		for _, m := range payload.Models {
			ids = append(ids, m.Name)
		}
	} else {
		for _, m := range payload.Data {
			ids = append(ids, m.ID)
		}
	}

	models := make([]Model, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if desc.ModelFilter != nil && !desc.ModelFilter(id) {
			continue
		}
		models = append(models, Model{ID: id, Host: desc.ID})
	}
	return models, nil
}

// ModelsChanged compares two model lists as sets keyed by id and host.
func ModelsChanged(next, prev []Model) bool {
	if len(next) != len(prev) {
		return true
	}
	key := func(ms []Model) []string {
		out := make([]string, len(ms))
		for i, m := range ms {
			out[i] = string(m.Host) + "/" + m.ID
		}
		sort.Strings(out)
		return out
	}
	a, b := key(next), key(prev)
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

// SelectModel keeps selected when it is still offered, otherwise falls back
// to the first model. It returns "" for an empty list.
func SelectModel(models []Model, selected string) string {
	for _, m := range models {
		if m.ID == selected {
			return selected
		}
	}
	if len(models) == 0 {
		return ""
	}
	return models[0].ID
}

// FindModel returns the model with id, if offered.
func FindModel(models []Model, id string) (Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
