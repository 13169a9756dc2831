package editor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dshills/lspbridge/internal/lsp"
)

type sentMessage struct {
	method string
	params json.RawMessage
}

// fakeClient answers requests through reply and records every message.
type fakeClient struct {
	mu        sync.Mutex
	caps      lsp.ServerCapabilities
	reply     func(ctx context.Context, method string, params json.RawMessage) (any, error)
	notifyErr error
	sent      []sentMessage
	done      chan struct{}
}

func newFakeClient(caps lsp.ServerCapabilities) *fakeClient {
	return &fakeClient{caps: caps, done: make(chan struct{})}
}

func (c *fakeClient) record(method string, params any) json.RawMessage {
	data, _ := json.Marshal(params)
	c.mu.Lock()
	c.sent = append(c.sent, sentMessage{method: method, params: data})
	c.mu.Unlock()
	return data
}

func (c *fakeClient) Request(ctx context.Context, method string, params, result any) error {
	data := c.record(method, params)
	if c.reply == nil {
		return errors.New("no reply configured")
	}
	v, err := c.reply(ctx, method, data)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(out, result)
}

func (c *fakeClient) Notify(_ context.Context, method string, params any) error {
	c.record(method, params)
	return c.notifyErr
}

func (c *fakeClient) Capabilities() lsp.ServerCapabilities { return c.caps }
func (c *fakeClient) ServerInfo() *lsp.ServerInfo          { return nil }
func (c *fakeClient) Close() error                         { return nil }
func (c *fakeClient) Done() <-chan struct{}                { return c.done }
func (c *fakeClient) Err() error                           { return nil }

func (c *fakeClient) messages(method string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, m := range c.sent {
		if m.method == method {
			out = append(out, m.params)
		}
	}
	return out
}

func (c *fakeClient) methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = m.method
	}
	return out
}

// fakeSource stands in for the registry.
type fakeSource struct {
	mu        sync.Mutex
	servers   []lsp.ServerClient
	listeners map[int]func(string, lsp.PublishDiagnosticsParams)
	next      int
}

func newFakeSource(servers ...lsp.ServerClient) *fakeSource {
	return &fakeSource{servers: servers, listeners: make(map[int]func(string, lsp.PublishDiagnosticsParams))}
}

func (s *fakeSource) AllClientsForFile(fileName string) []lsp.ServerClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []lsp.ServerClient
	for _, sc := range s.servers {
		if sc.Config.Matches(fileName) {
			out = append(out, sc)
		}
	}
	return out
}

func (s *fakeSource) OnDiagnostics(fn func(string, lsp.PublishDiagnosticsParams)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSource) publish(serverID string, p lsp.PublishDiagnosticsParams) {
	s.mu.Lock()
	fns := make([]func(string, lsp.PublishDiagnosticsParams), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(serverID, p)
	}
}

func (s *fakeSource) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func server(id string, c *fakeClient, exts ...string) lsp.ServerClient {
	if len(exts) == 0 {
		exts = []string{"tex"}
	}
	return lsp.ServerClient{
		ID:     id,
		Config: lsp.ServerConfig{ID: id, Enabled: true, FileExtensions: exts},
		Client: c,
	}
}

// fakeDoc is an in-memory document.
type fakeDoc struct {
	mu      sync.Mutex
	name    string
	text    string
	batches [][]Replacement
}

func (d *fakeDoc) FileName() string { return d.name }

func (d *fakeDoc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *fakeDoc) ApplyEdits(edits []Replacement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, edits)
	for _, e := range edits {
		d.text = d.text[:e.From] + e.Text + d.text[e.To:]
	}
	return nil
}

type fakeLint struct {
	mu      sync.Mutex
	sets    [][]Diagnostic
	relints int
}

func (l *fakeLint) SetDiagnostics(_ string, diags []Diagnostic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sets = append(l.sets, diags)
}

func (l *fakeLint) Relint(string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.relints++
}

func (l *fakeLint) last() []Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sets) == 0 {
		return nil
	}
	return l.sets[len(l.sets)-1]
}

type fakeTooltip struct {
	mu      sync.Mutex
	hovers  [][]string
	actions [][]Action
	hides   int
}

func (t *fakeTooltip) ShowHover(_ int, sections []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hovers = append(t.hovers, sections)
}

func (t *fakeTooltip) ShowActions(_ int, actions []Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = append(t.actions, actions)
}

func (t *fakeTooltip) Hide() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hides++
}

func (t *fakeTooltip) snapshot() (hovers [][]string, actions [][]Action, hides int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]string(nil), t.hovers...), append([][]Action(nil), t.actions...), t.hides
}

type staticDiags []lsp.Diagnostic

func (d staticDiags) At(int) []lsp.Diagnostic { return d }
