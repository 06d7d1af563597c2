// Package negotiation runs live negotiation rooms: it orders counterparty
// statements into analyses and pushes the resulting counter cards, with the
// running leverage score, to everyone watching the room.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/equalizer/internal/app/registry"
	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

type Service struct {
	registry *registry.Registry
	reasoner domain.ReasoningClient
	opts     Options
	now      func() time.Time
}

func NewService(reg *registry.Registry, reasoner domain.ReasoningClient, opts Options) *Service {
	return &Service{
		registry: reg,
		reasoner: reasoner,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

type CreateRoomInput struct {
	Topic        string
	YourPosition string
}

func (s *Service) CreateRoom(ctx context.Context, in CreateRoomInput) (*Room, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", domain.ErrInvalidInput)
	}

	sess, err := s.registry.Create(domain.KindNegotiation, func(id domain.SessionID) (registry.Session, error) {
		return newRoom(id, topic, strings.TrimSpace(in.YourPosition), s.reasoner, s.opts, s.now), nil
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to create room", "error", err)
		return nil, err
	}

	room := sess.(*Room)
	observability.LoggerFromContext(ctx).Info("room created", "session_id", room.ID(), "topic", topic)
	return room, nil
}

// GetRoom returns a live or recently closed room.
func (s *Service) GetRoom(id domain.SessionID) (*Room, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	room, ok := sess.(*Room)
	if !ok {
		return nil, domain.NewSessionError("get room", id, domain.ErrWrongKind)
	}
	return room, nil
}

// Join attaches a new observer. Joining twice yields two independent observers.
func (s *Service) Join(ctx context.Context, id domain.SessionID, role domain.Role) (*Observer, error) {
	room, err := s.GetRoom(id)
	if err != nil {
		return nil, err
	}
	o, err := room.Join(role)
	if err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx).Info("observer joined",
		"session_id", id,
		"observer_id", o.ID,
		"role", role,
		"history_cards", len(o.History),
	)
	return o, nil
}

func (s *Service) Leave(o *Observer) {
	o.room.Leave(o)
}

type SubmitInput struct {
	RoomID  domain.SessionID
	Speaker domain.Speaker
	Text    string
}

// SubmitUtterance records an utterance and schedules its analysis if it
// needs one. It never waits for the analysis. ErrQueueFull comes with the
// recorded utterance.
func (s *Service) SubmitUtterance(ctx context.Context, in SubmitInput) (domain.Utterance, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return domain.Utterance{}, fmt.Errorf("%w: text is required", domain.ErrInvalidInput)
	}
	room, err := s.GetRoom(in.RoomID)
	if err != nil {
		return domain.Utterance{}, err
	}
	if room.Status().Terminal() {
		return domain.Utterance{}, domain.NewSessionError("submit utterance", in.RoomID, domain.ErrSessionClosed)
	}

	u, err := room.Submit(ctx, in.Speaker, text)
	if errors.Is(err, domain.ErrQueueFull) {
		observability.LoggerFromContext(ctx).Warn("analysis skipped", "session_id", in.RoomID, "utterance_id", u.ID, "error", err)
		return u, err
	}
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("utterance rejected", "session_id", in.RoomID, "error", err)
		return domain.Utterance{}, err
	}
	return u, nil
}

func (s *Service) Transcript(id domain.SessionID) ([]domain.Utterance, error) {
	room, err := s.GetRoom(id)
	if err != nil {
		return nil, err
	}
	return room.Transcript(), nil
}

func (s *Service) Summary(id domain.SessionID) (*domain.NegotiationSummary, error) {
	room, err := s.GetRoom(id)
	if err != nil {
		return nil, err
	}
	return room.Summary(), nil
}

// End closes the room at the end of the call. Ending twice is not an error.
func (s *Service) End(ctx context.Context, id domain.SessionID) (*domain.NegotiationSummary, error) {
	room, err := s.GetRoom(id)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Close(id, domain.StatusCompleted); err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx).Info("room ended", "session_id", id, "score", room.Score())
	return room.Summary(), nil
}
