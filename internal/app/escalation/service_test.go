package escalation_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PabloGalante/equalizer/internal/app/escalation"
	"github.com/PabloGalante/equalizer/internal/app/registry"
	"github.com/PabloGalante/equalizer/internal/domain"
)

type executorFunc func(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error)

func (f executorFunc) Execute(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
	return f(ctx, c, step)
}

// every action kind runs through the same function
type anyKind struct{ fn executorFunc }

func (a anyKind) Lookup(domain.ActionKind) (domain.ActionExecutor, bool) { return a.fn, true }

func succeed(_ context.Context, _ domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
	return &domain.StepResult{Message: step.ID + " ok", DemoMode: true}, nil
}

func testFacts() domain.CaseFacts {
	return domain.CaseFacts{
		HospitalName: "Apollo Hospital",
		HospitalCity: "Chennai",
		Procedure:    "Angioplasty",
		BilledAmount: 450000,
		FairAmount:   150000,
		PatientName:  "Asha",
		PatientEmail: "asha@example.invalid",
	}
}

func newService(t *testing.T, fn executorFunc, opts escalation.Options) (*escalation.Service, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Options{MaxSessions: 10})
	t.Cleanup(reg.Shutdown)
	catalog, err := escalation.DefaultCatalog("standard")
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	return escalation.NewService(reg, catalog, anyKind{fn}, opts), reg
}

// collect reads events until session_completed or the deadline.
func collect(t *testing.T, sub *escalation.Subscription) []domain.EscalationEvent {
	t.Helper()
	var out []domain.EscalationEvent
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
			if ev.Type == domain.EventSessionCompleted {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out after %d events", len(out))
			return out
		}
	}
}

func terminalEvents(evs []domain.EscalationEvent) []domain.EscalationEvent {
	var out []domain.EscalationEvent
	for _, ev := range evs {
		if ev.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

func TestStartReturnsPendingSteps(t *testing.T) {
	svc, _ := newService(t, succeed, escalation.Options{})

	c, snap, err := svc.Start(context.Background(), testFacts())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.ID() == "" || snap.SessionID != c.ID() {
		t.Fatalf("unexpected ids %q / %q", c.ID(), snap.SessionID)
	}
	want := []string{"email_billing", "whatsapp_notify", "email_admin", "generate_rti", "prepare_consumer_court", "social_media_draft"}
	if len(snap.Steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(snap.Steps), len(want))
	}
	for i, s := range snap.Steps {
		if s.ID != want[i] || s.Status != domain.StepPending {
			t.Errorf("step %d = %s/%s, want %s/pending", i, s.ID, s.Status, want[i])
		}
	}
	if !strings.Contains(snap.Steps[0].Description, "Apollo Hospital") {
		t.Errorf("description not rendered: %q", snap.Steps[0].Description)
	}
}

func TestStartRejectsBadFacts(t *testing.T) {
	svc, _ := newService(t, succeed, escalation.Options{})

	facts := testFacts()
	facts.PatientEmail = ""
	if _, _, err := svc.Start(context.Background(), facts); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("missing email: %v", err)
	}

	facts = testFacts()
	facts.EscalationType = "nuclear"
	if _, _, err := svc.Start(context.Background(), facts); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown type: %v", err)
	}
}

func TestRunEmitsTerminalEventsInOrder(t *testing.T) {
	gate := make(chan struct{})
	svc, _ := newService(t, func(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
		<-gate
		if step.ActionKind == domain.ActionDocument {
			return nil, errors.New("renderer unavailable")
		}
		return succeed(ctx, c, step)
	}, escalation.Options{})

	c, _, err := svc.Start(context.Background(), testFacts())
	if err != nil {
		t.Fatal(err)
	}
	sub, err := svc.Subscribe(context.Background(), c.ID(), 0)
	if err != nil {
		t.Fatal(err)
	}
	close(gate)

	evs := collect(t, sub)
	terminal := terminalEvents(evs)
	if len(terminal) != 7 {
		t.Fatalf("got %d terminal events, want 6 steps + session_completed", len(terminal))
	}
	for i, ev := range terminal[:6] {
		if ev.StepIndex != i {
			t.Errorf("terminal event %d has step_index %d", i, ev.StepIndex)
		}
		wantType := domain.EventStepCompleted
		if i == 3 || i == 4 {
			wantType = domain.EventStepFailed
		}
		if ev.Type != wantType {
			t.Errorf("step %d event = %s, want %s", i, ev.Type, wantType)
		}
	}
	last := terminal[6]
	if last.Type != domain.EventSessionCompleted || last.Summary == nil {
		t.Fatalf("last event = %+v", last)
	}
	if last.Summary.Succeeded != 4 || last.Summary.Failed != 2 || last.Summary.FullSuccess() {
		t.Errorf("summary = %+v", *last.Summary)
	}

	for i := 1; i < len(evs); i++ {
		if evs[i].Seq <= evs[i-1].Seq {
			t.Fatalf("seq not increasing at %d: %d after %d", i, evs[i].Seq, evs[i-1].Seq)
		}
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription should end with the case")
	}
	if c.Status() != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", c.Status())
	}
}

func TestStepsNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var order []string
	svc, _ := newService(t, func(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		order = append(order, step.ID)
		time.Sleep(5 * time.Millisecond)
		return succeed(ctx, c, step)
	}, escalation.Options{})

	c, _, _ := svc.Start(context.Background(), testFacts())
	collect(t, c.Subscribe(0))

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent steps = %d, want 1", maxInFlight.Load())
	}
	snap := c.Snapshot()
	for i, s := range snap.Steps {
		if order[i] != s.ID {
			t.Errorf("call %d was %s, want %s", i, order[i], s.ID)
		}
		if i > 0 && s.StartedAt.Before(*snap.Steps[i-1].CompletedAt) {
			t.Errorf("step %d started before step %d completed", i, i-1)
		}
	}
	if snap.CurrentIndex != len(snap.Steps) {
		t.Errorf("CurrentIndex = %d, want %d", snap.CurrentIndex, len(snap.Steps))
	}
}

func TestFailuresAreContained(t *testing.T) {
	svc, _ := newService(t, func(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
		switch step.ID {
		case "email_billing":
			panic("smtp client exploded")
		case "email_admin":
			<-make(chan struct{}) // hangs past the timeout
		}
		return succeed(ctx, c, step)
	}, escalation.Options{ActionTimeout: 30 * time.Millisecond})

	c, _, _ := svc.Start(context.Background(), testFacts())
	evs := collect(t, c.Subscribe(0))

	snap := c.Snapshot()
	if snap.Steps[0].Status != domain.StepFailed || !strings.Contains(snap.Steps[0].Error, "panic") {
		t.Errorf("panicking step = %s %q", snap.Steps[0].Status, snap.Steps[0].Error)
	}
	if snap.Steps[2].Status != domain.StepFailed || snap.Steps[2].Error == "" {
		t.Errorf("hanging step = %s %q", snap.Steps[2].Status, snap.Steps[2].Error)
	}
	for _, i := range []int{1, 3, 4, 5} {
		if snap.Steps[i].Status != domain.StepCompleted {
			t.Errorf("step %d = %s, want completed", i, snap.Steps[i].Status)
		}
	}
	if sum := evs[len(evs)-1].Summary; sum.Succeeded != 4 || sum.Failed != 2 {
		t.Errorf("summary = %+v", *sum)
	}
}

func TestLateSubscriberGetsTerminalReplayFirst(t *testing.T) {
	release := make(chan struct{}, 6)
	svc, _ := newService(t, func(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return succeed(ctx, c, step)
	}, escalation.Options{ActionTimeout: 5 * time.Second})

	c, _, _ := svc.Start(context.Background(), testFacts())
	for range 3 {
		release <- struct{}{}
	}
	waitFor(t, func() bool {
		done := 0
		for _, s := range c.Snapshot().Steps {
			if s.Status.Terminal() {
				done++
			}
		}
		return done == 3
	})

	sub, err := svc.Subscribe(context.Background(), c.ID(), 0)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		release <- struct{}{}
	}
	evs := collect(t, sub)

	for i := range 3 {
		if evs[i].Type != domain.EventStepCompleted || evs[i].StepIndex != i {
			t.Fatalf("replayed event %d = %s/%d", i, evs[i].Type, evs[i].StepIndex)
		}
	}
	if evs[3].StepIndex < 3 || evs[3].Seq <= evs[2].Seq {
		t.Errorf("first live event = %s/%d seq %d", evs[3].Type, evs[3].StepIndex, evs[3].Seq)
	}
	if got := len(terminalEvents(evs)); got != 7 {
		t.Errorf("got %d terminal events, want 7", got)
	}
}

func TestResumeAfterSeq(t *testing.T) {
	svc, _ := newService(t, succeed, escalation.Options{})
	c, _, _ := svc.Start(context.Background(), testFacts())
	all := collect(t, c.Subscribe(0))
	waitFor(t, func() bool { return c.Status().Terminal() })

	full := c.Events()
	// session_started + 6 x (starting, finished) + session_completed
	if len(full) != 14 {
		t.Fatalf("event log has %d entries, want 14", len(full))
	}

	sub, err := svc.Subscribe(context.Background(), c.ID(), 4)
	if err != nil {
		t.Fatal(err)
	}
	<-sub.Done()
	var got []domain.EscalationEvent
	for len(sub.Events()) > 0 {
		got = append(got, <-sub.Events())
	}
	if len(got) != 10 || got[0].Seq != 5 || got[len(got)-1].Seq != 14 {
		t.Fatalf("resume delivered %d events from %d", len(got), got[0].Seq)
	}
	if all[len(all)-1].Seq != 14 {
		t.Errorf("live stream ended at seq %d", all[len(all)-1].Seq)
	}
}

func TestCancelStopsTheDriver(t *testing.T) {
	var calls atomic.Int32
	svc, reg := newService(t, func(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}, escalation.Options{ActionTimeout: time.Minute})

	var archived atomic.Int32
	reg.OnClose(func(registry.Session) { archived.Add(1) })

	c, _, _ := svc.Start(context.Background(), testFacts())
	sub := c.Subscribe(0)
	waitFor(t, func() bool { return calls.Load() == 1 })

	snap, err := svc.Cancel(context.Background(), c.ID())
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if snap.Status != domain.StatusExpired || snap.Summary == nil || !snap.Summary.Cancelled {
		t.Fatalf("snapshot after cancel = %+v", snap)
	}
	if _, err := svc.Cancel(context.Background(), c.ID()); err != nil {
		t.Errorf("second Cancel: %v", err)
	}

	evs := collect(t, sub)
	if last := evs[len(evs)-1]; !last.Summary.Cancelled {
		t.Errorf("final event not marked cancelled: %+v", last)
	}

	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("executor called %d times after cancel, want 1", calls.Load())
	}
	if archived.Load() != 1 {
		t.Errorf("close hooks ran %d times, want 1", archived.Load())
	}
}

func TestNaturalCompletionRunsCloseHooksOnce(t *testing.T) {
	svc, reg := newService(t, succeed, escalation.Options{})
	var archived atomic.Int32
	reg.OnClose(func(s registry.Session) {
		if s.Status() == domain.StatusCompleted {
			archived.Add(1)
		}
	})

	c, _, _ := svc.Start(context.Background(), testFacts())
	waitFor(t, func() bool { return archived.Load() == 1 })

	_ = reg.Close(c.ID(), domain.StatusExpired)
	if archived.Load() != 1 || c.Status() != domain.StatusCompleted {
		t.Errorf("closing a completed case must not re-run hooks or change status")
	}
}

func TestSubscribeUnknown(t *testing.T) {
	svc, _ := newService(t, succeed, escalation.Options{})
	if _, err := svc.Subscribe(context.Background(), "missing", 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
