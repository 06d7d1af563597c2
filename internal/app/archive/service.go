// Package archive keeps a summary of every closed session for later review.
// It is a reporting sink: nothing is ever restored from it.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/PabloGalante/equalizer/internal/app/escalation"
	"github.com/PabloGalante/equalizer/internal/app/negotiation"
	"github.com/PabloGalante/equalizer/internal/app/registry"
	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

const defaultLimit = 20

// Service holds the logic of writing and reading archived sessions.
type Service struct {
	store   domain.ArchiveStore
	timeout time.Duration
}

// NewService creates an archive service. A nil store disables archiving.
func NewService(store domain.ArchiveStore) *Service {
	return &Service{store: store, timeout: 10 * time.Second}
}

// Hook is registered with the registry so every closed session is archived once.
func (s *Service) Hook() registry.CloseHook {
	return func(sess registry.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		ctx = observability.WithSessionID(ctx, sess.ID())

		if err := s.Record(ctx, sess); err != nil {
			observability.LoggerFromContext(ctx).Error("failed to archive session", "error", err)
		}
	}
}

// Record writes the summary of a closed session.
func (s *Service) Record(ctx context.Context, sess registry.Session) error {
	if s.store == nil {
		return nil
	}

	rec := &domain.ArchiveRecord{
		SessionID: sess.ID(),
		Kind:      sess.Kind(),
		Status:    sess.Status(),
		CreatedAt: sess.CreatedAt(),
		ClosedAt:  sess.ClosedAt(),
	}
	switch v := sess.(type) {
	case *negotiation.Room:
		rec.Title = v.Topic()
		rec.Negotiation = v.Summary()
	case *escalation.Case:
		f := v.Facts()
		rec.Title = fmt.Sprintf("%s: %s", f.HospitalName, f.Procedure)
		rec.Escalation = v.Snapshot()
	default:
		return fmt.Errorf("archive: unsupported session type %T", sess)
	}

	if err := s.store.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("archive: save %s: %w", rec.SessionID, err)
	}
	observability.LoggerFromContext(ctx).Info("session archived", "kind", rec.Kind, "status", rec.Status)
	return nil
}

// List returns the most recently closed sessions, newest first. An empty kind
// lists every kind. If limit <= 0, a reasonable default value is used.
func (s *Service) List(ctx context.Context, kind domain.SessionKind, limit int) ([]*domain.ArchiveRecord, error) {
	if s.store == nil {
		return []*domain.ArchiveRecord{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.store.ListRecords(ctx, kind, limit)
}

func (s *Service) Get(ctx context.Context, id domain.SessionID) (*domain.ArchiveRecord, error) {
	if s.store == nil {
		return nil, domain.NewSessionError("get archive record", id, domain.ErrSessionNotFound)
	}
	return s.store.GetRecord(ctx, id)
}
