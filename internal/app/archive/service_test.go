package archive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PabloGalante/equalizer/internal/adapters/storage/memory"
	"github.com/PabloGalante/equalizer/internal/app/archive"
	"github.com/PabloGalante/equalizer/internal/app/escalation"
	"github.com/PabloGalante/equalizer/internal/app/negotiation"
	"github.com/PabloGalante/equalizer/internal/app/registry"
	"github.com/PabloGalante/equalizer/internal/domain"
)

type fixedReasoner struct{}

func (fixedReasoner) Analyze(context.Context, domain.AnalysisRequest) (*domain.Analysis, error) {
	return &domain.Analysis{Verdict: domain.VerdictFalse, Confidence: 70}, nil
}

type okExecutors struct{}

func (okExecutors) Lookup(domain.ActionKind) (domain.ActionExecutor, bool) { return okExecutors{}, true }

func (okExecutors) Execute(_ context.Context, _ domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
	return &domain.StepResult{Message: step.ID}, nil
}

func TestClosedSessionsAreArchived(t *testing.T) {
	ctx := context.Background()
	store := memory.NewArchiveStore(0)
	svc := archive.NewService(store)

	reg := registry.New(registry.Options{})
	reg.OnClose(svc.Hook())
	t.Cleanup(reg.Shutdown)

	neg := negotiation.NewService(reg, fixedReasoner{}, negotiation.Options{})
	room, err := neg.CreateRoom(ctx, negotiation.CreateRoomInput{Topic: "Salary negotiation"})
	if err != nil {
		t.Fatal(err)
	}
	obs, _ := neg.Join(ctx, room.ID(), domain.RoleHost)
	if _, err := neg.SubmitUtterance(ctx, negotiation.SubmitInput{RoomID: room.ID(), Speaker: domain.SpeakerThem, Text: "This is the market rate"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-obs.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("no card")
	}
	if _, err := neg.End(ctx, room.ID()); err != nil {
		t.Fatal(err)
	}

	rec, err := svc.Get(ctx, room.ID())
	if err != nil {
		t.Fatalf("room not archived: %v", err)
	}
	if rec.Kind != domain.KindNegotiation || rec.Title != "Salary negotiation" || rec.Negotiation == nil {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Negotiation.CardsGenerated != 1 || rec.Negotiation.Score != 55 {
		t.Errorf("summary = %+v", rec.Negotiation)
	}

	catalog, _ := escalation.DefaultCatalog("standard")
	esc := escalation.NewService(reg, catalog, okExecutors{}, escalation.Options{})
	c, _, err := esc.Start(ctx, domain.CaseFacts{
		HospitalName: "City Care", Procedure: "MRI", PatientName: "Ravi", PatientEmail: "ravi@example.invalid",
		BilledAmount: 20000, FairAmount: 8000,
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if rec, err := svc.Get(ctx, c.ID()); err == nil {
			if rec.Escalation == nil || rec.Escalation.Summary == nil || rec.Escalation.Summary.Succeeded != 6 {
				t.Fatalf("escalation record = %+v", rec.Escalation)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("escalation not archived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	list, _ := svc.List(ctx, "", 0)
	if len(list) != 2 || list[0].SessionID != c.ID() {
		t.Errorf("list = %d records", len(list))
	}
	onlyRooms, _ := svc.List(ctx, domain.KindNegotiation, 10)
	if len(onlyRooms) != 1 {
		t.Errorf("kind filter returned %d records", len(onlyRooms))
	}
}

func TestDisabledArchive(t *testing.T) {
	svc := archive.NewService(nil)
	list, err := svc.List(context.Background(), "", 5)
	if err != nil || len(list) != 0 {
		t.Errorf("List = %v, %v", list, err)
	}
	if _, err := svc.Get(context.Background(), "x"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Get = %v", err)
	}
}
