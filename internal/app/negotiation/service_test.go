package negotiation_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PabloGalante/equalizer/internal/app/negotiation"
	"github.com/PabloGalante/equalizer/internal/app/registry"
	"github.com/PabloGalante/equalizer/internal/domain"
)

type reasonerFunc func(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error)

func (f reasonerFunc) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
	return f(ctx, req)
}

func verdictReasoner(v domain.Verdict) reasonerFunc {
	return func(_ context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
		return &domain.Analysis{
			Verdict:         v,
			Explanation:     "checked: " + req.Statement,
			CounterArgument: "ask for the itemized rate sheet",
			Confidence:      80,
		}, nil
	}
}

func newService(t *testing.T, reasoner domain.ReasoningClient, opts negotiation.Options) *negotiation.Service {
	t.Helper()
	reg := registry.New(registry.Options{MaxSessions: 10})
	t.Cleanup(reg.Shutdown)
	return negotiation.NewService(reg, reasoner, opts)
}

func createRoom(t *testing.T, svc *negotiation.Service) *negotiation.Room {
	t.Helper()
	room, err := svc.CreateRoom(context.Background(), negotiation.CreateRoomInput{
		Topic:        "Medical bill dispute",
		YourPosition: "The bill is overcharged by 300%",
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func submit(t *testing.T, svc *negotiation.Service, id domain.SessionID, speaker domain.Speaker, text string) domain.Utterance {
	t.Helper()
	u, err := svc.SubmitUtterance(context.Background(), negotiation.SubmitInput{RoomID: id, Speaker: speaker, Text: text})
	if err != nil {
		t.Fatalf("SubmitUtterance(%q): %v", text, err)
	}
	return u
}

func nextEvent(t *testing.T, o *negotiation.Observer) negotiation.Event {
	t.Helper()
	select {
	case ev := <-o.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a counter card")
		return negotiation.Event{}
	}
}

func TestSubmitProducesCounterCard(t *testing.T) {
	svc := newService(t, verdictReasoner(domain.VerdictMisleading), negotiation.Options{})
	room := createRoom(t, svc)

	obs, err := svc.Join(context.Background(), room.ID(), domain.RoleHost)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	u := submit(t, svc, room.ID(), domain.SpeakerThem, "Our rates are standard")
	if u.ID == "" {
		t.Fatal("expected utterance correlation id")
	}

	ev := nextEvent(t, obs)
	if ev.Card.TheirStatement != "Our rates are standard" {
		t.Errorf("TheirStatement = %q", ev.Card.TheirStatement)
	}
	if ev.Card.UtteranceID != u.ID {
		t.Errorf("UtteranceID = %q, want %q", ev.Card.UtteranceID, u.ID)
	}
	if ev.Card.Verdict != domain.VerdictMisleading {
		t.Errorf("Verdict = %s, want MISLEADING", ev.Card.Verdict)
	}
	if ev.Score != 53 {
		t.Errorf("Score = %d, want 53", ev.Score)
	}

	select {
	case extra := <-obs.Events():
		t.Fatalf("unexpected second card: %+v", extra.Card)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsetInitialScoreStartsAtDefault(t *testing.T) {
	svc := newService(t, verdictReasoner(domain.VerdictTrue), negotiation.Options{})
	room := createRoom(t, svc)

	if got := room.Summary().Score; got != negotiation.DefaultInitialScore {
		t.Fatalf("fresh room score = %d, want %d", got, negotiation.DefaultInitialScore)
	}

	obs, err := svc.Join(context.Background(), room.ID(), domain.RoleHost)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	submit(t, svc, room.ID(), domain.SpeakerThem, "The MRI price includes the contrast dye")

	if ev := nextEvent(t, obs); ev.Score != 48 {
		t.Errorf("score after TRUE card = %d, want 48", ev.Score)
	}
}

func TestExplicitInitialScoreIsKept(t *testing.T) {
	svc := newService(t, verdictReasoner(domain.VerdictTrue), negotiation.Options{InitialScore: 70})
	if got := createRoom(t, svc).Summary().Score; got != 70 {
		t.Errorf("score = %d, want 70", got)
	}
}

func TestCardsFollowUtteranceOrderForEveryObserver(t *testing.T) {
	// later statements answer faster, so any parallelism would reorder cards
	reasoner := reasonerFunc(func(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
		var n int
		fmt.Sscanf(req.Statement, "statement number %d", &n)
		select {
		case <-time.After(time.Duration(10-n) * 3 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &domain.Analysis{Verdict: domain.VerdictFalse, Confidence: 50}, nil
	})
	svc := newService(t, reasoner, negotiation.Options{})
	room := createRoom(t, svc)

	a, _ := svc.Join(context.Background(), room.ID(), domain.RoleHost)
	b, _ := svc.Join(context.Background(), room.ID(), domain.RoleHost)
	if a == b || a.ID == b.ID {
		t.Fatal("joining twice must yield independent observers")
	}

	var sent []string
	for i := range 10 {
		text := fmt.Sprintf("statement number %d", i)
		submit(t, svc, room.ID(), domain.SpeakerThem, text)
		sent = append(sent, text)
	}

	for _, o := range []*negotiation.Observer{a, b} {
		for i, want := range sent {
			ev := nextEvent(t, o)
			if ev.Card.TheirStatement != want {
				t.Fatalf("observer %s card %d = %q, want %q", o.ID, i, ev.Card.TheirStatement, want)
			}
		}
	}
}

func TestOnlyCounterpartyStatementsAreAnalyzed(t *testing.T) {
	var got []domain.AnalysisRequest
	reasoner := reasonerFunc(func(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
		got = append(got, req)
		return &domain.Analysis{Verdict: domain.VerdictTrue}, nil
	})
	svc := newService(t, reasoner, negotiation.Options{MinStatementChars: 10})
	room := createRoom(t, svc)
	obs, _ := svc.Join(context.Background(), room.ID(), domain.RoleHost)

	submit(t, svc, room.ID(), domain.SpeakerHost, "I think this charge is far above the fair rate")
	submit(t, svc, room.ID(), domain.SpeakerThem, "No.")
	submit(t, svc, room.ID(), domain.SpeakerThem, "Everyone pays this amount here")

	ev := nextEvent(t, obs)
	if ev.Card.TheirStatement != "Everyone pays this amount here" {
		t.Fatalf("card for %q, want the long counterparty statement", ev.Card.TheirStatement)
	}
	if ev.Score != 48 {
		t.Errorf("Score = %d, want 48", ev.Score)
	}

	if len(got) != 1 {
		t.Fatalf("reasoner called %d times, want 1", len(got))
	}
	if len(got[0].Context) != 2 {
		t.Errorf("analysis context has %d entries, want the 2 earlier utterances", len(got[0].Context))
	}
	if got[0].Topic != "Medical bill dispute" {
		t.Errorf("Topic = %q", got[0].Topic)
	}

	transcript, err := svc.Transcript(room.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(transcript) != 3 {
		t.Errorf("transcript has %d entries, want 3", len(transcript))
	}
}

func TestHangingReasonerYieldsUnknownCard(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	var calls atomic.Int32
	reasoner := reasonerFunc(func(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
		if calls.Add(1) == 1 {
			<-block // ignores its context entirely
		}
		return &domain.Analysis{Verdict: domain.VerdictFalse, Confidence: 90}, nil
	})
	timeout := 50 * time.Millisecond
	svc := newService(t, reasoner, negotiation.Options{ReasoningTimeout: timeout})
	room := createRoom(t, svc)
	obs, _ := svc.Join(context.Background(), room.ID(), domain.RoleHost)

	start := time.Now()
	submit(t, svc, room.ID(), domain.SpeakerThem, "This is the lowest price in the city")
	ev := nextEvent(t, obs)
	if elapsed := time.Since(start); elapsed > timeout+time.Second {
		t.Errorf("unknown card took %v", elapsed)
	}
	if ev.Card.Verdict != domain.VerdictUnknown || ev.Card.Confidence != 0 {
		t.Fatalf("card = %s/%d, want UNKNOWN/0", ev.Card.Verdict, ev.Card.Confidence)
	}
	if ev.Card.Explanation == "" {
		t.Error("expected a generic explanation")
	}
	if ev.Score != 50 {
		t.Errorf("Score = %d, want unchanged 50", ev.Score)
	}

	submit(t, svc, room.ID(), domain.SpeakerThem, "Insurance never covers this procedure")
	ev = nextEvent(t, obs)
	if ev.Card.Verdict != domain.VerdictFalse {
		t.Errorf("room should stay usable, got verdict %s", ev.Card.Verdict)
	}
}

func TestReasonerErrorYieldsUnknownCard(t *testing.T) {
	reasoner := reasonerFunc(func(context.Context, domain.AnalysisRequest) (*domain.Analysis, error) {
		return nil, errors.New("quota exhausted")
	})
	svc := newService(t, reasoner, negotiation.Options{})
	room := createRoom(t, svc)
	obs, _ := svc.Join(context.Background(), room.ID(), domain.RoleHost)

	submit(t, svc, room.ID(), domain.SpeakerThem, "That fee is mandated by law")
	if ev := nextEvent(t, obs); ev.Card.Verdict != domain.VerdictUnknown {
		t.Fatalf("Verdict = %s, want UNKNOWN", ev.Card.Verdict)
	}
}

func TestRejoinReceivesRecentHistory(t *testing.T) {
	svc := newService(t, verdictReasoner(domain.VerdictFalse), negotiation.Options{LiveCards: 5})
	room := createRoom(t, svc)
	first, _ := svc.Join(context.Background(), room.ID(), domain.RoleHost)

	for i := range 7 {
		submit(t, svc, room.ID(), domain.SpeakerThem, fmt.Sprintf("claim number %d is standard", i))
	}
	var last negotiation.Event
	for range 7 {
		last = nextEvent(t, first)
	}
	svc.Leave(first)
	if room.Status() != domain.StatusActive {
		t.Fatal("leaving must not close the room")
	}

	again, err := svc.Join(context.Background(), room.ID(), domain.RoleHost)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(again.History) != 5 {
		t.Fatalf("history has %d cards, want 5", len(again.History))
	}
	if again.History[4].CardID != last.Card.CardID {
		t.Error("history must end with the most recent card")
	}
	if again.History[0].TheirStatement != "claim number 2 is standard" {
		t.Errorf("oldest history card = %q", again.History[0].TheirStatement)
	}
	if again.Score != last.Score || again.Score != 85 {
		t.Errorf("Score = %d, want %d", again.Score, last.Score)
	}

	sum, err := svc.Summary(room.ID())
	if err != nil {
		t.Fatal(err)
	}
	if sum.CardsGenerated != 7 || len(sum.Cards) != 7 || sum.Verdicts.False != 7 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestQueueFullIsReported(t *testing.T) {
	gate := make(chan struct{})
	reasoner := reasonerFunc(func(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return &domain.Analysis{Verdict: domain.VerdictTrue}, nil
	})
	svc := newService(t, reasoner, negotiation.Options{QueueSize: 1, ReasoningTimeout: time.Minute})
	room := createRoom(t, svc)
	t.Cleanup(func() { close(gate) })

	var full bool
	for i := range 3 {
		u, err := svc.SubmitUtterance(context.Background(), negotiation.SubmitInput{
			RoomID:  room.ID(),
			Speaker: domain.SpeakerThem,
			Text:    fmt.Sprintf("statement %d that needs checking", i),
		})
		if errors.Is(err, domain.ErrQueueFull) {
			full = true
			if u.ID == "" {
				t.Fatal("skipped analysis should still return the recorded utterance")
			}
			transcript, _ := svc.Transcript(room.ID())
			if len(transcript) != i+1 || transcript[i].ID != u.ID {
				t.Errorf("transcript has %d entries, want the skipped statement last", len(transcript))
			}
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !full {
		t.Fatal("expected ErrQueueFull with a queue of one and a blocked reasoner")
	}
	if got := domain.Code(fmt.Errorf("wrapped: %w", domain.ErrQueueFull)); got != domain.CodeQueueFull {
		t.Errorf("Code = %s", got)
	}
}

func TestSlowObserverIsDisconnected(t *testing.T) {
	svc := newService(t, verdictReasoner(domain.VerdictTrue), negotiation.Options{ObserverBuffer: 1})
	room := createRoom(t, svc)
	slow, _ := svc.Join(context.Background(), room.ID(), domain.RoleGuest)
	fast, _ := svc.Join(context.Background(), room.ID(), domain.RoleHost)

	for i := range 3 {
		submit(t, svc, room.ID(), domain.SpeakerThem, fmt.Sprintf("statement %d that needs checking", i))
		nextEvent(t, fast)
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow observer was not disconnected")
	}
	if !errors.Is(slow.Err(), negotiation.ErrSlowObserver) {
		t.Errorf("Err = %v, want ErrSlowObserver", slow.Err())
	}
	if room.ObserverCount() != 1 {
		t.Errorf("ObserverCount = %d, want 1", room.ObserverCount())
	}
}

func TestEndedRoom(t *testing.T) {
	svc := newService(t, verdictReasoner(domain.VerdictTrue), negotiation.Options{})
	room := createRoom(t, svc)
	obs, _ := svc.Join(context.Background(), room.ID(), domain.RoleHost)

	sum, err := svc.End(context.Background(), room.ID())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if sum.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want completed", sum.Status)
	}
	if _, err := svc.End(context.Background(), room.ID()); err != nil {
		t.Errorf("second End: %v", err)
	}

	select {
	case <-obs.Done():
	case <-time.After(time.Second):
		t.Fatal("observer not released on close")
	}
	if !errors.Is(obs.Err(), domain.ErrSessionClosed) {
		t.Errorf("observer Err = %v", obs.Err())
	}

	if _, err := svc.Join(context.Background(), room.ID(), domain.RoleGuest); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Join after End: %v, want ErrSessionClosed", err)
	}
	_, err = svc.SubmitUtterance(context.Background(), negotiation.SubmitInput{
		RoomID: room.ID(), Speaker: domain.SpeakerThem, Text: "one more thing to say",
	})
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Submit after End: %v, want ErrSessionClosed", err)
	}
	if _, err := svc.Summary(room.ID()); err != nil {
		t.Errorf("summary must stay readable after End: %v", err)
	}
}

func TestUnknownRoom(t *testing.T) {
	svc := newService(t, verdictReasoner(domain.VerdictTrue), negotiation.Options{})
	if _, err := svc.Join(context.Background(), "nope", domain.RoleHost); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Join: %v", err)
	}
	if _, err := svc.CreateRoom(context.Background(), negotiation.CreateRoomInput{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("CreateRoom without topic: %v", err)
	}
}
