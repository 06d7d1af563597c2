// Package escalation runs escalation cases: a fixed, ordered list of external
// actions executed one at a time, with every lifecycle change published as a
// sequenced event.
package escalation

import (
	"context"
	"time"

	"github.com/PabloGalante/equalizer/internal/app/registry"
	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

type Service struct {
	registry  *registry.Registry
	catalog   *Catalog
	executors Executors
	opts      Options
	now       func() time.Time
}

func NewService(reg *registry.Registry, catalog *Catalog, executors Executors, opts Options) *Service {
	return &Service{
		registry:  reg,
		catalog:   catalog,
		executors: executors,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Catalog exposes the playbooks the service starts cases from.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Start validates facts, registers the case and launches its driver. The
// returned snapshot lists the steps before any of them ran.
func (s *Service) Start(ctx context.Context, facts domain.CaseFacts) (*Case, *domain.EscalationSnapshot, error) {
	log := observability.LoggerFromContext(ctx)

	if err := facts.Validate(); err != nil {
		return nil, nil, err
	}
	steps, err := s.catalog.Steps(facts)
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.registry.Create(domain.KindEscalation, func(id domain.SessionID) (registry.Session, error) {
		return newCase(id, facts, steps, s.executors, s.opts, s.now, func(c *Case) {
			s.registry.Completed(c)
		}), nil
	})
	if err != nil {
		log.Warn("failed to start escalation", "error", err)
		return nil, nil, err
	}

	c := sess.(*Case)
	initial := c.Snapshot()
	go c.run()

	log.Info("escalation registered",
		"session_id", c.ID(),
		"hospital", facts.HospitalName,
		"steps", len(steps),
	)
	return c, initial, nil
}

// Get returns a live or recently finished case.
func (s *Service) Get(id domain.SessionID) (*Case, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	c, ok := sess.(*Case)
	if !ok {
		return nil, domain.NewSessionError("get escalation", id, domain.ErrWrongKind)
	}
	return c, nil
}

// Subscribe attaches a push observer; see Case.Subscribe for the catch-up rules.
func (s *Service) Subscribe(ctx context.Context, id domain.SessionID, after uint64) (*Subscription, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sub := c.Subscribe(after)
	observability.LoggerFromContext(ctx).Debug("subscriber attached", "session_id", id, "after_seq", after)
	return sub, nil
}

func (s *Service) Unsubscribe(sub *Subscription) {
	sub.c.unsubscribe(sub)
}

// Cancel abandons a running case. Cancelling a finished case does nothing.
func (s *Service) Cancel(ctx context.Context, id domain.SessionID) (*domain.EscalationSnapshot, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Close(id, domain.StatusExpired); err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx).Info("escalation cancelled", "session_id", id)
	return c.Snapshot(), nil
}
