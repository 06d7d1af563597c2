package firestore

import (
	"testing"
	"time"

	"github.com/PabloGalante/equalizer/internal/domain"
)

func TestRecordDocKeepsSummary(t *testing.T) {
	closed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &domain.ArchiveRecord{
		SessionID: "room-1",
		Kind:      domain.KindNegotiation,
		Status:    domain.StatusCompleted,
		Title:     "Medical bill dispute",
		ClosedAt:  closed,
		Negotiation: &domain.NegotiationSummary{
			RoomID:         "room-1",
			Score:          61,
			CardsGenerated: 2,
			Verdicts:       domain.VerdictCounts{False: 2},
		},
	}

	doc, err := toDoc(rec)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Kind != "negotiation" || !doc.ClosedAt.Equal(closed) {
		t.Errorf("indexed fields = %+v", doc)
	}

	got, err := fromDoc("room-1", doc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Negotiation == nil || got.Negotiation.Score != 61 || got.Negotiation.Verdicts.False != 2 {
		t.Errorf("negotiation summary lost: %+v", got.Negotiation)
	}
	if got.Escalation != nil {
		t.Error("unexpected escalation payload")
	}
}
