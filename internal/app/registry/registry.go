// Package registry is the process-wide store of live sessions.
//
// It is the only structure shared by every connection and session loop. The
// lock guards the id→session map only; it is never held while a session is
// constructed, closed or archived.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

// Session is what the registry needs from a negotiation room or escalation case.
type Session interface {
	ID() domain.SessionID
	Kind() domain.SessionKind
	CreatedAt() time.Time
	Status() domain.SessionStatus
	// LastActivity is the time of the last utterance, card or step transition.
	LastActivity() time.Time
	ObserverCount() int
	// Close stops the session's loops and releases observers. It reports
	// whether this call moved the session to a terminal status.
	Close(status domain.SessionStatus) bool
	// ClosedAt is when the session became terminal, zero while live.
	ClosedAt() time.Time
}

// Factory builds a session under an id chosen by the registry.
type Factory func(id domain.SessionID) (Session, error)

// CloseHook runs after a session reached a terminal status.
type CloseHook func(s Session)

type Options struct {
	MaxSessions     int
	IdleTimeout     time.Duration
	ReapInterval    time.Duration
	ClosedRetention time.Duration
}

type Registry struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]Session
	// reserved counts ids handed to factories that have not returned yet.
	reserved int

	opts    Options
	now     func() time.Time
	newID   func() string
	onClose []CloseHook
}

func New(opts Options) *Registry {
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	return &Registry{
		sessions: make(map[domain.SessionID]Session),
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// OnClose registers a hook called once per session after it closes.
func (r *Registry) OnClose(h CloseHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = append(r.onClose, h)
}

// Create allocates an unguessable id and stores the session built by factory.
func (r *Registry) Create(kind domain.SessionKind, factory Factory) (Session, error) {
	r.mu.Lock()
	if r.opts.MaxSessions > 0 && r.liveLocked()+r.reserved >= r.opts.MaxSessions {
		r.mu.Unlock()
		return nil, domain.NewSessionError("create "+string(kind), "", domain.ErrCapacityExceeded)
	}
	id := domain.SessionID(r.newID())
	for r.sessions[id] != nil {
		id = domain.SessionID(r.newID())
	}
	r.reserved++
	r.mu.Unlock()

	s, err := factory(id)

	r.mu.Lock()
	r.reserved--
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if s.ID() != id || s.Kind() != kind {
		r.mu.Unlock()
		s.Close(domain.StatusExpired)
		return nil, fmt.Errorf("registry: factory returned session %s/%s, want %s/%s", s.Kind(), s.ID(), kind, id)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	observability.Logger().Info("session created", "session_id", id, "kind", kind)
	return s, nil
}

// Get returns the session, live or recently closed.
func (r *Registry) Get(id domain.SessionID) (Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, domain.NewSessionError("get", id, domain.ErrSessionNotFound)
	}
	return s, nil
}

// Close ends a session with status completed or expired. Closing an already
// terminal session does nothing.
func (r *Registry) Close(id domain.SessionID, status domain.SessionStatus) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	r.closeSession(s, status)
	return nil
}

func (r *Registry) closeSession(s Session, status domain.SessionStatus) bool {
	if !status.Terminal() {
		status = domain.StatusCompleted
	}
	if !s.Close(status) {
		return false
	}
	r.runHooks(s)
	return true
}

// Completed is called by sessions that finish on their own (an escalation
// reaching its last step) so the close hooks still run.
func (r *Registry) Completed(s Session) {
	r.runHooks(s)
}

func (r *Registry) runHooks(s Session) {
	r.mu.Lock()
	hooks := append([]CloseHook(nil), r.onClose...)
	r.mu.Unlock()

	observability.Logger().Info("session closed",
		"session_id", s.ID(),
		"kind", s.Kind(),
		"status", s.Status(),
	)
	for _, h := range hooks {
		h(s)
	}
}

// Run reaps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Reap expires idle sessions and purges terminal ones past retention.
// It returns how many sessions were expired and purged.
func (r *Registry) Reap() (expired, purged int) {
	now := r.now()

	r.mu.Lock()
	var idle []Session
	for id, s := range r.sessions {
		if s.Status().Terminal() {
			if now.Sub(s.ClosedAt()) >= r.opts.ClosedRetention {
				delete(r.sessions, id)
				purged++
			}
			continue
		}
		if r.opts.IdleTimeout > 0 && s.ObserverCount() == 0 && now.Sub(s.LastActivity()) >= r.opts.IdleTimeout {
			idle = append(idle, s)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		if r.closeSession(s, domain.StatusExpired) {
			expired++
		}
	}

	if expired > 0 || purged > 0 {
		observability.Logger().Info("reaper pass", "expired", expired, "purged", purged)
	}
	return expired, purged
}

// Stats counts sessions by kind and liveness.
type Stats struct {
	Live     map[domain.SessionKind]int `json:"live"`
	Terminal map[domain.SessionKind]int `json:"terminal"`
}

func (r *Registry) Stats() Stats {
	st := Stats{
		Live:     make(map[domain.SessionKind]int),
		Terminal: make(map[domain.SessionKind]int),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Status().Terminal() {
			st.Terminal[s.Kind()]++
		} else {
			st.Live[s.Kind()]++
		}
	}
	return st
}

// Shutdown closes every live session as expired.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	var live []Session
	for _, s := range r.sessions {
		if !s.Status().Terminal() {
			live = append(live, s)
		}
	}
	r.mu.Unlock()

	for _, s := range live {
		r.closeSession(s, domain.StatusExpired)
	}
}

func (r *Registry) liveLocked() int {
	n := 0
	for _, s := range r.sessions {
		if !s.Status().Terminal() {
			n++
		}
	}
	return n
}
