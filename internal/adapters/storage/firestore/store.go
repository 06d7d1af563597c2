package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/equalizer/internal/domain"
)

const archiveCollection = "archive"

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (EQUALIZER_ARCHIVE_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) archiveCol() *firestore.CollectionRef {
	return s.client.Collection(archiveCollection)
}

func (s *Store) recordDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.archiveCol().Doc(string(id))
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

// recordDoc keeps the queryable fields as columns and the rest as JSON, so
// the stored summary always matches what the API returns.
type recordDoc struct {
	Kind      string    `firestore:"kind"`
	Status    string    `firestore:"status"`
	Title     string    `firestore:"title"`
	CreatedAt time.Time `firestore:"created_at"`
	ClosedAt  time.Time `firestore:"closed_at"`
	Payload   string    `firestore:"payload"`
}

type payload struct {
	Negotiation *domain.NegotiationSummary `json:"negotiation,omitempty"`
	Escalation  *domain.EscalationSnapshot `json:"escalation,omitempty"`
}

func toDoc(rec *domain.ArchiveRecord) (recordDoc, error) {
	raw, err := json.Marshal(payload{Negotiation: rec.Negotiation, Escalation: rec.Escalation})
	if err != nil {
		return recordDoc{}, err
	}
	return recordDoc{
		Kind:      string(rec.Kind),
		Status:    string(rec.Status),
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt,
		ClosedAt:  rec.ClosedAt,
		Payload:   string(raw),
	}, nil
}

func fromDoc(id string, doc recordDoc) (*domain.ArchiveRecord, error) {
	var p payload
	if doc.Payload != "" {
		if err := json.Unmarshal([]byte(doc.Payload), &p); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", id, err)
		}
	}
	return &domain.ArchiveRecord{
		SessionID:   domain.SessionID(id),
		Kind:        domain.SessionKind(doc.Kind),
		Status:      domain.SessionStatus(doc.Status),
		Title:       doc.Title,
		CreatedAt:   doc.CreatedAt,
		ClosedAt:    doc.ClosedAt,
		Negotiation: p.Negotiation,
		Escalation:  p.Escalation,
	}, nil
}

// ─────────────────────────────────────────
// ArchiveStore implementation
// ─────────────────────────────────────────

func (s *Store) SaveRecord(ctx context.Context, rec *domain.ArchiveRecord) error {
	doc, err := toDoc(rec)
	if err != nil {
		return fmt.Errorf("firestore SaveRecord encode: %w", err)
	}

	if _, err := s.recordDoc(rec.SessionID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore SaveRecord: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id domain.SessionID) (*domain.ArchiveRecord, error) {
	snap, err := s.recordDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.NewSessionError("get archive record", id, domain.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("firestore GetRecord: %w", err)
	}

	var doc recordDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetRecord decode: %w", err)
	}
	return fromDoc(snap.Ref.ID, doc)
}

func (s *Store) ListRecords(ctx context.Context, kind domain.SessionKind, limit int) ([]*domain.ArchiveRecord, error) {
	q := s.archiveCol().OrderBy("closed_at", firestore.Desc)
	if kind != "" {
		q = s.archiveCol().Where("kind", "==", string(kind)).OrderBy("closed_at", firestore.Desc)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []*domain.ArchiveRecord{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListRecords: %w", err)
		}

		var doc recordDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode recordDoc: %w", err)
		}
		rec, err := fromDoc(snap.Ref.ID, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
