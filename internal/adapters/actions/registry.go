// Package actions implements the side effects of escalation steps: letters,
// notifications, legal drafts, social posts and videos.
//
// With demo mode on nothing leaves the process; every executor returns the
// payload it would have sent, flagged with demo_mode.
package actions

import (
	"context"
	"slices"
	"time"

	"github.com/PabloGalante/equalizer/internal/domain"
)

// Settings are shared by every executor.
type Settings struct {
	DemoMode        bool
	DemoDelay       time.Duration
	SenderEmail     string
	TestPhoneNumber string
}

// Registry maps action kinds to executors.
type Registry struct {
	executors map[domain.ActionKind]domain.ActionExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.ActionKind]domain.ActionExecutor)}
}

func (r *Registry) Register(kind domain.ActionKind, exec domain.ActionExecutor) {
	r.executors[kind] = exec
}

func (r *Registry) Lookup(kind domain.ActionKind) (domain.ActionExecutor, bool) {
	exec, ok := r.executors[kind]
	return exec, ok
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []domain.ActionKind {
	kinds := make([]domain.ActionKind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Deps are the outbound clients. Any of them may be nil; an executor without
// its client behaves as in demo mode.
type Deps struct {
	Email  EmailSender
	SMS    SMSPublisher
	Writer TextGenerator
	Video  VideoRenderer
}

// NewDefaultRegistry wires one executor per action kind.
func NewDefaultRegistry(s Settings, deps Deps) *Registry {
	r := NewRegistry()
	r.Register(domain.ActionEmail, NewEmailExecutor(s, deps.Email))
	r.Register(domain.ActionMessaging, NewMessagingExecutor(s, deps.SMS))
	r.Register(domain.ActionDocument, NewDocumentExecutor(s))
	r.Register(domain.ActionSocial, NewSocialExecutor(s))
	r.Register(domain.ActionVideo, NewVideoExecutor(s, deps.Writer, deps.Video))
	return r
}

// pause simulates the latency of a real call so demo runs look alive.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
