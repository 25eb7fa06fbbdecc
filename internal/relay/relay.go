package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/roadassist/internal/models"
)

// ErrNoSession is returned when a user has no live websocket session.
var ErrNoSession = errors.New("no session")

// Notifier is the fan-out contract the request service and matcher push
// through. Delivery is best-effort: an offline party discovers missed
// events through the pull endpoints, never through redelivery.
type Notifier interface {
	NotifyProviders(ctx context.Context, providers []models.Provider, ev models.RequestEvent)
	NotifyCustomer(ctx context.Context, customerID string, ev models.RequestEvent)
	Broadcast(ctx context.Context, serviceType models.ServiceType, ev models.RequestEvent)
}

// Conn is the subset of *websocket.Conn the relay needs; tests substitute
// an in-memory recorder.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one connected user. Writes are serialized per connection;
// gorilla conns do not allow concurrent writers.
type Session struct {
	userID string
	conn   Conn

	mu   sync.Mutex
	subs map[string]struct{}
}

func (s *Session) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Subscribe registers interest in a channel, e.g. requests:new:mechanic
// for providers or requests:update:<id> for customers.
func (s *Session) Subscribe(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[channel] = struct{}{}
}

func (s *Session) Unsubscribe(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, channel)
}

func (s *Session) subscribed(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[channel]
	return ok
}

// Registry holds live sessions keyed by user. A second connection from the
// same user replaces the first; the stale socket is closed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(userID string, conn Conn) *Session {
	s := &Session{userID: userID, conn: conn, subs: make(map[string]struct{})}
	r.mu.Lock()
	old := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove drops the session only if it is still the registered one.
func (r *Registry) Remove(userID string, s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[userID]; ok && cur == s {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
}

func (r *Registry) Send(userID string, v interface{}) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(v)
}

// Publish delivers v to every session subscribed to the channel.
func (r *Registry) Publish(channel string, v interface{}) int {
	r.mu.RLock()
	targets := make([]*Session, 0, 4)
	for _, s := range r.sessions {
		if s.subscribed(channel) {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()
	sent := 0
	for _, s := range targets {
		if err := s.send(v); err == nil {
			sent++
		}
	}
	return sent
}

// Pusher is the offline fallback transport (FCM in production).
type Pusher interface {
	Push(token string, ev models.RequestEvent) error
}

// Relay implements Notifier over the websocket registry with an optional
// push fallback for providers who registered a token but are offline.
type Relay struct {
	Registry *Registry
	Push     Pusher // optional
	Logger   *slog.Logger
}

func New(reg *Registry, push Pusher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{Registry: reg, Push: push, Logger: logger}
}

func (r *Relay) NotifyProviders(ctx context.Context, providers []models.Provider, ev models.RequestEvent) {
	for _, p := range providers {
		if err := r.Registry.Send(p.ID, ev); err == nil {
			continue
		}
		if r.Push != nil && p.PushToken != "" {
			if err := r.Push.Push(p.PushToken, ev); err != nil {
				r.Logger.Warn("push fallback failed", "provider_id", p.ID, "error", err)
			}
			continue
		}
		// offline with no token: the provider will find the request via
		// the pending-list pull path
		r.Logger.Debug("provider unreachable", "provider_id", p.ID, "event", ev.Type)
	}
}

// Broadcast fans a new-request event out to the per-service-type feed.
// Addressed events go through NotifyProviders and NotifyCustomer and never
// touch the feed.
func (r *Relay) Broadcast(ctx context.Context, serviceType models.ServiceType, ev models.RequestEvent) {
	r.Registry.Publish("requests:new:"+string(serviceType), ev)
}

func (r *Relay) NotifyCustomer(ctx context.Context, customerID string, ev models.RequestEvent) {
	if err := r.Registry.Send(customerID, ev); err != nil && !errors.Is(err, ErrNoSession) {
		r.Logger.Warn("customer notify failed", "customer_id", customerID, "error", err)
	}
	r.Registry.Publish("requests:update:"+ev.RequestID, ev)
}
