package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"churchadmin/internal/session"

	"github.com/gofiber/fiber/v2"
)

const stateKeyPrefix = "dashboard_state:"

// Registry owns one Client per dashboard browser session. Client state is
// mirrored into storage so a restart can rehydrate the backend session.
type Registry struct {
	deps    Deps
	storage fiber.Storage
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	newFn   func(id string) (*Client, error)

	mu      sync.Mutex
	clients map[string]*Client
	// pending lets concurrent first requests of one browser share a client.
	pending map[string]chan struct{}
}

// NewRegistry keeps clients in memory and, when storage is non-nil, their
// restorable state in storage for ttl.
func NewRegistry(deps Deps, storage fiber.Storage) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		deps:    deps,
		storage: storage,
		ttl:     deps.Config.Session.Expiration,
		logger:  logger.With("component", "dashboard"),
		now:     time.Now,
		clients: make(map[string]*Client),
		pending: make(map[string]chan struct{}),
	}
	r.newFn = func(id string) (*Client, error) { return NewClient(id, deps) }
	return r
}

// Get returns the client for a browser session, creating and rehydrating it
// on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Client, error) {
	for {
		r.mu.Lock()
		if c, ok := r.clients[id]; ok {
			r.mu.Unlock()
			c.Touch(r.now())
			return c, nil
		}
		if wait, ok := r.pending[id]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		r.pending[id] = done
		r.mu.Unlock()

		c, err := r.create(ctx, id)

		r.mu.Lock()
		delete(r.pending, id)
		if err == nil {
			r.clients[id] = c
		}
		r.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		r.deps.Telemetry.ClientsChanged(ctx, 1)
		return c, nil
	}
}

func (r *Registry) create(ctx context.Context, id string) (*Client, error) {
	c, err := r.newFn(id)
	if err != nil {
		return nil, err
	}
	c.Touch(r.now())

	c.Restore(ctx, r.load(id))

	unsubscribe := c.Session.Subscribe(func(event session.Event) {
		switch event.Kind {
		case session.EventLogout, session.EventExpired:
			r.forget(id)
		default:
			r.save(id, c)
		}
	})
	previous := c.unsubscribe
	c.unsubscribe = func() {
		unsubscribe()
		if previous != nil {
			previous()
		}
	}
	return c, nil
}

func (r *Registry) load(id string) State {
	var state State
	if r.storage == nil {
		return state
	}
	raw, err := r.storage.Get(stateKeyPrefix + id)
	if err != nil {
		r.logger.Warn("Failed to load dashboard state", "client_id", id, "error", err)
		return state
	}
	if len(raw) == 0 {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		r.logger.Warn("Discarding unreadable dashboard state", "client_id", id, "error", err)
		return State{}
	}
	return state
}

func (r *Registry) save(id string, c *Client) {
	if r.storage == nil {
		return
	}
	raw, err := json.Marshal(c.State())
	if err != nil {
		r.logger.Error("Failed to encode dashboard state", "client_id", id, "error", err)
		return
	}
	if err := r.storage.Set(stateKeyPrefix+id, raw, r.ttl); err != nil {
		r.logger.Warn("Failed to save dashboard state", "client_id", id, "error", err)
	}
}

func (r *Registry) forget(id string) {
	if r.storage == nil {
		return
	}
	if err := r.storage.Delete(stateKeyPrefix + id); err != nil {
		r.logger.Warn("Failed to delete dashboard state", "client_id", id, "error", err)
	}
}

// Remove drops a client and its saved state, e.g. when the browser session
// is destroyed.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()

	r.forget(id)
	if ok {
		c.Close()
		r.deps.Telemetry.ClientsChanged(ctx, -1)
	}
}

// Sweep evicts clients idle for longer than maxIdle. Their saved state is
// kept so a returning browser rehydrates instead of signing in again.
func (r *Registry) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	var evicted []*Client
	for id, c := range r.clients {
		if c.LastSeen().Before(cutoff) {
			evicted = append(evicted, c)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	for _, c := range evicted {
		c.Close()
	}
	if len(evicted) > 0 {
		r.deps.Telemetry.ClientsChanged(ctx, -int64(len(evicted)))
	}
	return len(evicted)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
