package escalation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

// ErrSlowSubscriber is the reason given to a subscriber dropped because its
// buffer was full when an event was emitted.
var ErrSlowSubscriber = errors.New("subscriber too slow, disconnected")

// Executors resolves the executor for a step's action kind.
type Executors interface {
	Lookup(kind domain.ActionKind) (domain.ActionExecutor, bool)
}

type Options struct {
	ActionTimeout    time.Duration
	StepPause        time.Duration
	SubscriberBuffer int
}

func (o Options) withDefaults() Options {
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 20 * time.Second
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
	return o
}

// Case is one escalation. Its driver loop is the only writer of steps and
// current index; mu makes subscription atomic with emission.
type Case struct {
	id        domain.SessionID
	facts     domain.CaseFacts
	createdAt time.Time

	executors Executors
	opts      Options
	now       func() time.Time
	onDone    func(*Case)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	status       domain.SessionStatus
	closedAt     time.Time
	lastActivity time.Time
	steps        []domain.EscalationStep
	current      int
	summary      *domain.EscalationSummary
	seq          uint64
	log          []domain.EscalationEvent
	subs         map[*Subscription]struct{}
}

func newCase(id domain.SessionID, facts domain.CaseFacts, steps []domain.EscalationStep, executors Executors, opts Options, now func() time.Time, onDone func(*Case)) *Case {
	ctx, cancel := context.WithCancel(context.Background())
	created := now()
	return &Case{
		id:           id,
		facts:        facts,
		createdAt:    created,
		executors:    executors,
		opts:         opts,
		now:          now,
		onDone:       onDone,
		ctx:          ctx,
		cancel:       cancel,
		status:       domain.StatusActive,
		lastActivity: created,
		steps:        steps,
		subs:         make(map[*Subscription]struct{}),
	}
}

func (c *Case) ID() domain.SessionID     { return c.id }
func (c *Case) Kind() domain.SessionKind { return domain.KindEscalation }
func (c *Case) CreatedAt() time.Time     { return c.createdAt }
func (c *Case) Facts() domain.CaseFacts  { return c.facts }

func (c *Case) Status() domain.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Case) ClosedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedAt
}

func (c *Case) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Case) ObserverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Snapshot is a consistent copy of the case's state.
func (c *Case) Snapshot() *domain.EscalationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &domain.EscalationSnapshot{
		SessionID:    c.id,
		Status:       c.status,
		Facts:        c.facts,
		Steps:        append([]domain.EscalationStep(nil), c.steps...),
		CurrentIndex: c.current,
		CreatedAt:    c.createdAt,
	}
	if c.summary != nil {
		sum := *c.summary
		snap.Summary = &sum
	}
	return snap
}

// Close abandons the case. The driver stops before the next step and the
// result of an in-flight action is discarded.
func (c *Case) Close(status domain.SessionStatus) bool {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return false
	}
	sum := c.tallyLocked()
	sum.Cancelled = true
	c.finishLocked(status, sum)
	c.mu.Unlock()

	c.cancel()
	return true
}

func (c *Case) tallyLocked() domain.EscalationSummary {
	sum := domain.EscalationSummary{Total: len(c.steps)}
	for _, s := range c.steps {
		switch s.Status {
		case domain.StepCompleted:
			sum.Succeeded++
		case domain.StepFailed:
			sum.Failed++
		}
	}
	return sum
}

// finishLocked records the final status, emits session_completed and ends
// every subscription.
func (c *Case) finishLocked(status domain.SessionStatus, sum domain.EscalationSummary) {
	c.status = status
	c.closedAt = c.now()
	c.lastActivity = c.closedAt
	c.summary = &sum
	c.emitLocked(domain.EscalationEvent{
		Type:      domain.EventSessionCompleted,
		StepIndex: c.current,
		Summary:   &sum,
	})
	for s := range c.subs {
		s.close(nil)
	}
	clear(c.subs)
}

func (c *Case) emitLocked(ev domain.EscalationEvent) {
	c.seq++
	ev.Seq = c.seq
	ev.SessionID = c.id
	ev.Timestamp = c.now()
	c.log = append(c.log, ev)

	for s := range c.subs {
		select {
		case s.events <- ev:
		default:
			delete(c.subs, s)
			s.close(ErrSlowSubscriber)
			observability.Logger().Warn("dropping slow subscriber", "session_id", c.id, "seq", ev.Seq)
		}
	}
}

// Subscribe attaches a push observer. With after == 0 the catch-up is every
// already-terminal event; otherwise it is every event with a larger sequence
// number, which lets a reconnecting client resume without gaps. On a finished
// case the subscription is done once the catch-up is delivered.
func (c *Case) Subscribe(after uint64) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	var catchUp []domain.EscalationEvent
	for _, ev := range c.log {
		if after > 0 {
			if ev.Seq > after {
				catchUp = append(catchUp, ev)
			}
		} else if ev.Terminal() {
			catchUp = append(catchUp, ev)
		}
	}

	s := &Subscription{
		c:      c,
		events: make(chan domain.EscalationEvent, len(catchUp)+c.opts.SubscriberBuffer),
		done:   make(chan struct{}),
	}
	for _, ev := range catchUp {
		s.events <- ev
	}
	if c.status.Terminal() {
		s.close(nil)
		return s
	}
	c.subs[s] = struct{}{}
	c.lastActivity = c.now()
	return s
}

func (c *Case) unsubscribe(s *Subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.lastActivity = c.now()
	c.mu.Unlock()
	s.close(nil)
}

// Events returns the full event log, oldest first.
func (c *Case) Events() []domain.EscalationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.EscalationEvent(nil), c.log...)
}

func (c *Case) file() domain.CaseFile {
	return domain.CaseFile{ID: c.id, Facts: c.facts}
}

// run is the driver loop: steps execute strictly one after another and a
// failed step never stops the ones after it.
func (c *Case) run() {
	log := observability.WithFields("session_id", c.id)

	defer func() {
		if p := recover(); p != nil {
			log.Error("escalation driver panicked", "panic", p, "stack", string(debug.Stack()))
			if c.Close(domain.StatusExpired) && c.onDone != nil {
				c.onDone(c)
			}
		}
	}()

	total, ok := c.begin()
	if !ok {
		return
	}
	log.Info("escalation started", "total_steps", total)

	for i := range total {
		step, ok := c.startStep(i)
		if !ok {
			return
		}

		res, err := c.execute(step)

		if !c.finishStep(i, res, err) {
			return
		}
		if err != nil {
			log.Warn("step failed", "step_id", step.ID, "error", err)
		} else {
			log.Info("step completed", "step_id", step.ID)
		}

		if c.opts.StepPause > 0 && i < total-1 {
			select {
			case <-time.After(c.opts.StepPause):
			case <-c.ctx.Done():
				return
			}
		}
	}

	sum, ok := c.complete()
	if !ok {
		return
	}
	c.cancel()

	log.Info("escalation completed", "succeeded", sum.Succeeded, "failed", sum.Failed)
	if c.onDone != nil {
		c.onDone(c)
	}
}

func (c *Case) begin() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return 0, false
	}
	c.emitLocked(domain.EscalationEvent{
		Type:   domain.EventSessionStarted,
		Result: map[string]any{"total_steps": len(c.steps)},
	})
	return len(c.steps), true
}

func (c *Case) complete() (domain.EscalationSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return domain.EscalationSummary{}, false
	}
	c.current = len(c.steps)
	sum := c.tallyLocked()
	c.finishLocked(domain.StatusCompleted, sum)
	return sum, true
}

func (c *Case) startStep(i int) (domain.EscalationStep, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return domain.EscalationStep{}, false
	}

	now := c.now()
	c.current = i
	c.steps[i].Status = domain.StepInProgress
	c.steps[i].StartedAt = &now
	c.lastActivity = now
	step := c.steps[i]
	c.emitLocked(domain.EscalationEvent{
		Type:      domain.EventStepStarting,
		StepIndex: i,
		StepID:    step.ID,
		Result:    step,
	})
	return step, true
}

// finishStep records the outcome unless the case was closed meanwhile.
func (c *Case) finishStep(i int, res *domain.StepResult, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return false
	}

	now := c.now()
	step := &c.steps[i]
	step.CompletedAt = &now
	c.lastActivity = now
	c.current = i + 1

	ev := domain.EscalationEvent{StepIndex: i, StepID: step.ID}
	if err != nil {
		step.Status = domain.StepFailed
		step.Error = err.Error()
		ev.Type = domain.EventStepFailed
		ev.Result = map[string]any{"error": step.Error}
	} else {
		step.Status = domain.StepCompleted
		step.Result = res
		ev.Type = domain.EventStepCompleted
		ev.Result = res
	}
	c.emitLocked(ev)
	return true
}

// execute bounds one action call and turns panics into failures.
func (c *Case) execute(step domain.EscalationStep) (*domain.StepResult, error) {
	exec, ok := c.executors.Lookup(step.ActionKind)
	if !ok {
		return nil, fmt.Errorf("no executor for action %q", step.ActionKind)
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.ActionTimeout)
	defer cancel()
	ctx = observability.WithSessionID(ctx, c.id)

	type outcome struct {
		res *domain.StepResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%s executor panic: %v", step.ActionKind, p)}
			}
		}()
		res, err := exec.Execute(ctx, c.file(), step)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.res == nil {
			out.res = &domain.StepResult{Message: step.Name + " done"}
		}
		if errors.Is(out.err, context.DeadlineExceeded) {
			out.err = fmt.Errorf("%w: %w", domain.ErrUpstreamTimeout, out.err)
		}
		return out.res, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s exceeded %s", domain.ErrUpstreamTimeout, step.ID, c.opts.ActionTimeout)
		}
		return nil, ctx.Err()
	}
}

// Subscription receives the events of one case.
type Subscription struct {
	c      *Case
	events chan domain.EscalationEvent
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *Subscription) SessionID() domain.SessionID { return s.c.id }

func (s *Subscription) Events() <-chan domain.EscalationEvent { return s.events }

// Done is closed when no further events will be queued. Events already
// queued stay readable.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err is ErrSlowSubscriber when the subscription was dropped, nil otherwise.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
