// Package session manages streaming-transport sessions: creation, lazy and
// swept expiration, explicit deletion, and per-session event channels. The
// registry is an injectable object with an explicit Start/Shutdown lifecycle
// owned by the transport bootstrap.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdtools/mdtd/pkg/logging"
)

const (
	// DefaultTimeout is how long a session may stay idle before expiring
	DefaultTimeout = 30 * time.Minute

	// DefaultSweepInterval is how often the background sweep runs
	DefaultSweepInterval = 5 * time.Minute
)

// ClientInfo carries optional metadata about the client that opened a session
type ClientInfo struct {
	UserAgent string `json:"userAgent,omitempty"`
	Origin    string `json:"origin,omitempty"`
}

// Event is a payload pushed to a session's listeners
type Event struct {
	Name string
	Data interface{}
}

// Session is a server-side record correlating a streaming connection with a
// client across reconnects. All fields are owned by the Registry.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	ClientInfo   ClientInfo

	mu        sync.Mutex
	listeners map[int]chan Event
	nextSub   int
}

// Info is a read-only snapshot of a session used by the debug listing
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Listeners    int       `json:"listeners"`
	UserAgent    string    `json:"userAgent,omitempty"`
	Origin       string    `json:"origin,omitempty"`
}

// subscribe attaches a listener channel to the session
func (s *Session) subscribe() (<-chan Event, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners == nil {
		s.listeners = make(map[int]chan Event)
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 16)
	s.listeners[id] = ch
	return ch, id
}

// unsubscribe detaches one listener. Detaching an already-removed listener
// is a no-op so a disconnect racing a delete stays safe.
func (s *Session) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.listeners[id]; ok {
		delete(s.listeners, id)
		close(ch)
	}
}

// detachAll closes every listener channel. Called exactly once per deletion
// through Registry.remove.
func (s *Session) detachAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.listeners {
		delete(s.listeners, id)
		close(ch)
	}
}

// emit delivers an event to all listeners without blocking; a listener with
// a full buffer misses the event rather than stalling the sender.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// listenerCount reports how many listeners are attached
func (s *Session) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Config configures a Registry
type Config struct {
	// Timeout is the idle expiry for sessions (default 30m)
	Timeout time.Duration
	// SweepInterval is the background sweep period (default 5m)
	SweepInterval time.Duration
	// Logger receives lifecycle events; nil means no logging
	Logger logging.Logger
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Registry creates, validates, expires, and deletes sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout       time.Duration
	sweepInterval time.Duration
	logger        logging.Logger
	now           func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewRegistry creates a registry. Call Start to begin the background sweep
// and Shutdown to stop it and delete every remaining session.
func NewRegistry(cfg Config) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{
		sessions:      make(map[string]*Session),
		timeout:       cfg.Timeout,
		sweepInterval: cfg.SweepInterval,
		logger:        cfg.Logger,
		now:           cfg.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Create generates a fresh session with both timestamps set to now
func (r *Registry) Create(info ClientInfo) *Session {
	now := r.now()
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
		ClientInfo:   info,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Debug("session created", logging.String("session_id", s.ID))
	return s
}

// Get returns the session and bumps its activity timestamp. An expired
// session is removed and reported as absent, mirroring Validate.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}

	now := r.now()
	if now.Sub(s.LastActivity) > r.timeout {
		r.removeLocked(id, "expired")
		r.mu.Unlock()
		return nil, false
	}

	s.LastActivity = now
	r.mu.Unlock()
	return s, true
}

// Validate reports whether a session exists and has not idled past the
// timeout. A stale session is deleted on the spot rather than waiting for
// the next sweep.
func (r *Registry) Validate(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Delete removes the session and detaches all listeners from its channel,
// returning whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id, "deleted")
}

// Emit pushes an event to the session's channel if it still exists. A
// missing session is silently ignored: a closed connection racing an emit is
// not an error.
func (r *Registry) Emit(id string, ev Event) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if ok {
		s.emit(ev)
	}
}

// Subscribe attaches a listener to the session's channel. The returned
// cancel func detaches it; the channel is closed when the listener is
// detached or the session is deleted. Like Get, an expired session is
// removed on the spot and reported as absent, and a successful subscribe
// bumps the activity timestamp.
func (r *Registry) Subscribe(id string) (<-chan Event, func(), bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, false
	}

	now := r.now()
	if now.Sub(s.LastActivity) > r.timeout {
		r.removeLocked(id, "expired")
		r.mu.Unlock()
		return nil, nil, false
	}
	s.LastActivity = now
	r.mu.Unlock()

	ch, subID := s.subscribe()
	return ch, func() { s.unsubscribe(subID) }, true
}

// ListenerCount reports the number of listeners attached to a session;
// zero for unknown sessions.
func (r *Registry) ListenerCount(id string) int {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return 0
	}
	return s.listenerCount()
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of every session, for the debug listing
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{
			ID:           s.ID,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			Listeners:    s.listenerCount(),
			UserAgent:    s.ClientInfo.UserAgent,
			Origin:       s.ClientInfo.Origin,
		})
	}
	return out
}

// Start launches the background sweep. Safe to call once; subsequent calls
// are no-ops.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		go r.sweepLoop()
	})
}

// Shutdown stops the sweep and deletes every remaining session. Used on
// process termination.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.startOnce.Do(func() {
		// Never started; nothing is waiting on stop.
		close(r.done)
	})
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.sessions {
		r.removeLocked(id, "shutdown")
	}
}

// Sweep removes every session whose idle time exceeds the timeout,
// regardless of whether anyone has looked it up. The background loop calls
// this on a fixed interval; tests may call it directly.
func (r *Registry) Sweep() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity) > r.timeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		r.removeLocked(id, "swept")
	}

	if len(stale) > 0 {
		r.logger.Info("swept expired sessions", logging.Int("count", len(stale)))
	}
}

// removeLocked is the single deletion routine shared by lazy expiry, the
// sweep, explicit deletes, and shutdown. Callers hold r.mu. Removing an
// already-removed session is a no-op.
func (r *Registry) removeLocked(id, reason string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}

	delete(r.sessions, id)
	s.detachAll()
	r.logger.Debug("session removed",
		logging.String("session_id", id),
		logging.String("reason", reason))
	return true
}

func (r *Registry) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stop:
			return
		}
	}
}
