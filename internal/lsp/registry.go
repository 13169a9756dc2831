package lsp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/lspbridge/internal/logging"
)

// StatusEvent is one connection status transition.
type StatusEvent struct {
	ServerID string
	Status   ConnectionStatus
}

// DiagnosticsEvent is one publishDiagnostics notification and its origin.
type DiagnosticsEvent struct {
	ServerID string
	Params   PublishDiagnosticsParams
}

// ServerClient pairs a connected client with the config it was built from.
type ServerClient struct {
	ID     string
	Config ServerConfig
	Client Client
}

// handle is the registry's live client for one server id.
type handle struct {
	client Client
	token  string
}

// Registry owns the configured servers, their live clients and their
// connection status.
//
// The client map is authoritative for "usable": a server is handed out only
// when a handle exists. Every connection attempt carries a generation token;
// completions and socket events whose token is no longer current are dropped,
// so a config change racing an in-flight connect cannot leave a second client.
type Registry struct {
	mu       sync.Mutex
	order    []string
	configs  map[string]ServerConfig
	statuses map[string]ConnectionStatus
	clients  map[string]*handle
	attempts map[string]string
	closed   bool

	events   []StatusEvent
	draining bool

	statusListeners *listenerSet[StatusEvent]
	diagListeners   *listenerSet[DiagnosticsEvent]

	dialer         Dialer
	connectTimeout time.Duration
	log            *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithDialer replaces the function that builds clients.
func WithDialer(d Dialer) RegistryOption {
	return func(r *Registry) { r.dialer = d }
}

// WithConnectTimeout bounds each connection attempt, handshake included.
func WithConnectTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.connectTimeout = d }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		configs:        make(map[string]ServerConfig),
		statuses:       make(map[string]ConnectionStatus),
		clients:        make(map[string]*handle),
		attempts:       make(map[string]string),
		connectTimeout: 10 * time.Second,
		log:            logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("registry")
	if r.dialer == nil {
		r.dialer = WebSocketDialer(WithClientLogger(r.log))
	}
	r.statusListeners = newListenerSet[StatusEvent]("status", r.log)
	r.diagListeners = newListenerSet[DiagnosticsEvent]("diagnostics", r.log)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// RegisterConfig stores cfg, replacing any config with the same id, and
// starts connecting when it is enabled and has a client config. The status
// is reset to disconnected and announced before any connection attempt.
func (r *Registry) RegisterConfig(cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.Clone()
	cfg.Normalize()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	old := r.detachLocked(cfg.ID)
	if _, exists := r.configs[cfg.ID]; !exists {
		r.order = append(r.order, cfg.ID)
	}
	r.configs[cfg.ID] = cfg
	r.setStatusLocked(cfg.ID, StatusDisconnected, true)

	var token string
	if cfg.Enabled && cfg.Client != nil {
		token = r.beginConnectLocked(cfg.ID)
	}
	r.mu.Unlock()

	r.closeClient(cfg.ID, old)
	r.drain()
	if token != "" {
		go r.establish(cfg.ID, token, cfg)
	}
	r.log.Debug("registered server %s (enabled=%t)", cfg.ID, cfg.Enabled)
	return nil
}

// UnregisterConfig tears down the server's client and forgets the config
// and status. Teardown failures are logged, never returned.
func (r *Registry) UnregisterConfig(id string) {
	r.mu.Lock()
	if _, ok := r.configs[id]; !ok {
		r.mu.Unlock()
		return
	}
	old := r.detachLocked(id)
	r.setStatusLocked(id, StatusDisconnected, false)
	delete(r.configs, id)
	delete(r.statuses, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	r.mu.Unlock()

	r.drain()
	r.closeClient(id, old)
	r.log.Debug("unregistered server %s", id)
}

// UpdateConfig merges u into the stored config. Disabling disconnects;
// enabling connects when a client config is present; a changed transport or
// client config on an enabled server forces a reconnect. Other changes are
// stored without touching the connection.
func (r *Registry) UpdateConfig(id string, u ConfigUpdate) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	cfg, ok := r.configs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	merged, connChanged := u.Apply(cfg)
	if err := merged.Validate(); err != nil {
		r.mu.Unlock()
		return err
	}
	r.configs[id] = merged

	var old Client
	var token string
	switch {
	case cfg.Enabled && !merged.Enabled:
		old = r.detachLocked(id)
		r.setStatusLocked(id, StatusDisconnected, false)
	case !cfg.Enabled && merged.Enabled:
		old = r.detachLocked(id)
		if merged.Client != nil {
			token = r.beginConnectLocked(id)
		}
	case merged.Enabled && connChanged:
		old = r.detachLocked(id)
		r.setStatusLocked(id, StatusDisconnected, false)
		if merged.Client != nil {
			token = r.beginConnectLocked(id)
		}
	}
	r.mu.Unlock()

	r.closeClient(id, old)
	r.drain()
	if token != "" {
		go r.establish(id, token, merged)
	}
	return nil
}

// Reconnect drops the server's client, if any, and connects again without
// looking at what changed. Disabled servers are only disconnected.
func (r *Registry) Reconnect(id string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	cfg, ok := r.configs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	old := r.detachLocked(id)
	r.setStatusLocked(id, StatusDisconnected, false)
	var token string
	if cfg.Enabled && cfg.Client != nil {
		token = r.beginConnectLocked(id)
	}
	r.mu.Unlock()

	r.closeClient(id, old)
	r.drain()
	if token != "" {
		go r.establish(id, token, cfg)
	}
	return nil
}

// ConnectionStatus returns the server's status; unknown ids are disconnected.
func (r *Registry) ConnectionStatus(id string) ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

// Config returns a copy of the stored config.
func (r *Registry) Config(id string) (ServerConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return ServerConfig{}, false
	}
	return cfg.Clone(), true
}

// Configs returns copies of every stored config in registration order.
func (r *Registry) Configs() []ServerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServerConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.configs[id].Clone())
	}
	return out
}

// OnStatusChange subscribes fn to status transitions. Listeners run
// synchronously, in transition order. The returned function unsubscribes.
func (r *Registry) OnStatusChange(fn func(id string, status ConnectionStatus)) func() {
	return r.statusListeners.add(func(ev StatusEvent) { fn(ev.ServerID, ev.Status) })
}

// OnDiagnostics subscribes fn to every publishDiagnostics notification from
// any server. The returned function unsubscribes.
func (r *Registry) OnDiagnostics(fn func(serverID string, params PublishDiagnosticsParams)) func() {
	return r.diagListeners.add(func(ev DiagnosticsEvent) { fn(ev.ServerID, ev.Params) })
}

// ClientForFile returns the first connected, enabled server, in registration
// order, whose config matches fileName.
func (r *Registry) ClientForFile(fileName string) (Client, bool) {
	all := r.matching(fileName, true)
	if len(all) == 0 {
		return nil, false
	}
	return all[0].Client, true
}

// AllClientsForFile returns every connected, enabled server matching fileName
// in registration order.
func (r *Registry) AllClientsForFile(fileName string) []ServerClient {
	return r.matching(fileName, false)
}

func (r *Registry) matching(fileName string, firstOnly bool) []ServerClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServerClient
	for _, id := range r.order {
		cfg := r.configs[id]
		h, live := r.clients[id]
		if !live || !cfg.Enabled || !cfg.Matches(fileName) {
			continue
		}
		out = append(out, ServerClient{ID: id, Config: cfg.Clone(), Client: h.client})
		if firstOnly {
			break
		}
	}
	return out
}

// Close disconnects every server and waits for pending connection attempts.
// The registry cannot be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	type pending struct {
		id     string
		client Client
	}
	var toClose []pending
	for _, id := range r.order {
		if c := r.detachLocked(id); c != nil {
			toClose = append(toClose, pending{id, c})
		}
		r.setStatusLocked(id, StatusDisconnected, false)
	}
	r.mu.Unlock()

	r.cancel()
	r.drain()

	var errs []error
	for _, p := range toClose {
		if err := r.closeClient(p.id, p.client); err != nil {
			errs = append(errs, &ServerError{ServerID: p.id, Err: err})
		}
	}
	r.wg.Wait()
	return errors.Join(errs...)
}

// beginConnectLocked starts a new connection generation for id.
func (r *Registry) beginConnectLocked(id string) string {
	token := uuid.NewString()
	r.attempts[id] = token
	r.setStatusLocked(id, StatusConnecting, false)
	r.wg.Add(1)
	return token
}

// detachLocked invalidates the current generation for id and removes its
// handle. It is safe on ids with no client.
func (r *Registry) detachLocked(id string) Client {
	delete(r.attempts, id)
	h, ok := r.clients[id]
	if !ok {
		return nil
	}
	delete(r.clients, id)
	return h.client
}

// establish runs one connection attempt outside the lock.
func (r *Registry) establish(id, token string, cfg ServerConfig) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.ctx, r.connectTimeout)
	defer cancel()

	client, err := r.dialer(ctx, cfg, func(p PublishDiagnosticsParams) {
		r.publishDiagnostics(id, token, p)
	})

	r.mu.Lock()
	if r.attempts[id] != token {
		r.mu.Unlock()
		if client != nil {
			r.log.Debug("discarding superseded connection to %s", id)
			_ = r.closeClient(id, client)
		}
		return
	}
	if err != nil {
		delete(r.attempts, id)
		r.setStatusLocked(id, StatusError, false)
		r.mu.Unlock()
		r.log.Warn("connect %s failed: %v", id, err)
		r.drain()
		return
	}
	r.clients[id] = &handle{client: client, token: token}
	r.setStatusLocked(id, StatusConnected, false)
	r.mu.Unlock()

	r.drain()
	go r.watch(id, token, client)
}

// watch clears the handle when the connection ends on its own. A socket
// error leaves the status at error; retrying is up to the caller.
func (r *Registry) watch(id, token string, client Client) {
	<-client.Done()

	r.mu.Lock()
	if r.attempts[id] != token {
		r.mu.Unlock()
		return
	}
	delete(r.attempts, id)
	delete(r.clients, id)
	status := StatusDisconnected
	if err := client.Err(); err != nil {
		status = StatusError
		r.log.Warn("connection to %s failed: %v", id, err)
	} else {
		r.log.Info("connection to %s closed", id)
	}
	r.setStatusLocked(id, status, false)
	r.mu.Unlock()

	r.drain()
	_ = client.Close()
}

func (r *Registry) publishDiagnostics(id, token string, p PublishDiagnosticsParams) {
	r.mu.Lock()
	current := r.attempts[id] == token
	r.mu.Unlock()
	if !current {
		return
	}
	r.diagListeners.emit(DiagnosticsEvent{ServerID: id, Params: p})
}

// closeClient closes c, logging instead of propagating failures.
func (r *Registry) closeClient(id string, c Client) (err error) {
	if c == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic closing client: %v", rec)
			r.log.Error("closing %s: %v", id, err)
		}
	}()
	if err = c.Close(); err != nil {
		r.log.Warn("closing %s: %v", id, err)
	}
	return err
}

// setStatusLocked records a status and queues a notification when it
// changed, or always when force is set.
func (r *Registry) setStatusLocked(id string, st ConnectionStatus, force bool) {
	if _, ok := r.configs[id]; !ok {
		return
	}
	prev := r.statuses[id]
	r.statuses[id] = st
	if force || prev != st {
		r.events = append(r.events, StatusEvent{ServerID: id, Status: st})
	}
}

// drain delivers queued status events in order. Only one goroutine drains at
// a time; events queued meanwhile, including by listeners that call back into
// the registry, are picked up by the active drainer.
func (r *Registry) drain() {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	for len(r.events) > 0 {
		ev := r.events[0]
		r.events = r.events[1:]
		r.mu.Unlock()
		r.statusListeners.emit(ev)
		r.mu.Lock()
	}
	r.draining = false
	r.mu.Unlock()
}
