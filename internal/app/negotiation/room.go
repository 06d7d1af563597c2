package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

// ErrSlowObserver is the reason given to an observer dropped because its
// buffer was full when a card was broadcast.
var ErrSlowObserver = errors.New("observer too slow, disconnected")

const unknownExplanation = "Could not analyze this statement in time. Ask them to clarify or back it up."

// Options tune every room created by a Service.
type Options struct {
	ReasoningTimeout  time.Duration
	QueueSize         int
	ObserverBuffer    int
	LiveCards         int
	MinStatementChars int
	// InitialScore of 0 or less means DefaultInitialScore.
	InitialScore      int
	ContextWindow     int
}

func (o Options) withDefaults() Options {
	if o.ReasoningTimeout <= 0 {
		o.ReasoningTimeout = 10 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.ObserverBuffer <= 0 {
		o.ObserverBuffer = 32
	}
	if o.LiveCards <= 0 {
		o.LiveCards = 5
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = 10
	}
	if o.InitialScore <= 0 {
		o.InitialScore = DefaultInitialScore
	}
	o.InitialScore = clamp(o.InitialScore)
	return o
}

// Event is broadcast to every observer of a room when a card is produced.
type Event struct {
	Card  domain.CounterCard
	Score int
}

type analysisJob struct {
	utterance domain.Utterance
	context   []domain.Utterance
}

type submitRequest struct {
	utterance domain.Utterance
	reply     chan error
}

// Room is one live negotiation. Transcript, cards and score are written only by
// the room's actor goroutine; observers are guarded by their own lock.
type Room struct {
	id           domain.SessionID
	topic        string
	yourPosition string
	createdAt    time.Time

	opts     Options
	reasoner domain.ReasoningClient
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	inbox   chan submitRequest
	jobs    chan analysisJob
	results chan domain.CounterCard

	mu           sync.Mutex
	status       domain.SessionStatus
	closedAt     time.Time
	lastActivity time.Time

	stateMu    sync.RWMutex
	transcript []domain.Utterance
	cards      []domain.CounterCard
	score      int

	obsMu     sync.Mutex
	observers map[*Observer]struct{}
}

func newRoom(id domain.SessionID, topic, yourPosition string, reasoner domain.ReasoningClient, opts Options, now func() time.Time) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	created := now()
	r := &Room{
		id:           id,
		topic:        topic,
		yourPosition: yourPosition,
		createdAt:    created,
		opts:         opts,
		reasoner:     reasoner,
		now:          now,
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan submitRequest),
		jobs:         make(chan analysisJob, opts.QueueSize),
		results:      make(chan domain.CounterCard),
		status:       domain.StatusActive,
		lastActivity: created,
		score:        opts.InitialScore,
		observers:    make(map[*Observer]struct{}),
	}
	go r.run()
	go r.analyze()
	return r
}

func (r *Room) ID() domain.SessionID     { return r.id }
func (r *Room) Kind() domain.SessionKind { return domain.KindNegotiation }
func (r *Room) CreatedAt() time.Time     { return r.createdAt }
func (r *Room) Topic() string            { return r.topic }
func (r *Room) YourPosition() string     { return r.yourPosition }

func (r *Room) Status() domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Room) ClosedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closedAt
}

func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActivity = r.now()
	r.mu.Unlock()
}

func (r *Room) ObserverCount() int {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	return len(r.observers)
}

// Score is the current leverage score.
func (r *Room) Score() int {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.score
}

// Close stops the room's loops and disconnects every observer. Pending
// analyses are dropped and late results are discarded.
func (r *Room) Close(status domain.SessionStatus) bool {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.status = status
	r.closedAt = r.now()
	r.mu.Unlock()

	r.cancel()

	r.obsMu.Lock()
	for o := range r.observers {
		o.close(domain.ErrSessionClosed)
	}
	clear(r.observers)
	r.obsMu.Unlock()
	return true
}

// Submit hands an utterance to the actor. It returns once the utterance is in
// the transcript, never waiting for its analysis. On ErrQueueFull the
// utterance is returned along with the error: it was recorded but will get no card.
func (r *Room) Submit(ctx context.Context, speaker domain.Speaker, text string) (domain.Utterance, error) {
	u := domain.Utterance{
		ID:        domain.UtteranceID(uuid.NewString()),
		Speaker:   speaker,
		Text:      text,
		Timestamp: r.now(),
	}
	req := submitRequest{utterance: u, reply: make(chan error, 1)}

	select {
	case r.inbox <- req:
	case <-r.ctx.Done():
		return domain.Utterance{}, domain.NewSessionError("submit utterance", r.id, domain.ErrSessionClosed)
	case <-ctx.Done():
		return domain.Utterance{}, ctx.Err()
	}

	// the actor always replies without blocking
	if err := <-req.reply; err != nil {
		return u, domain.NewSessionError("submit utterance", r.id, err)
	}
	return u, nil
}

// Transcript returns a copy of every utterance so far.
func (r *Room) Transcript() []domain.Utterance {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return append([]domain.Utterance(nil), r.transcript...)
}

// Cards returns a copy of every card so far, oldest first.
func (r *Room) Cards() []domain.CounterCard {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return append([]domain.CounterCard(nil), r.cards...)
}

func (r *Room) Summary() *domain.NegotiationSummary {
	r.stateMu.RLock()
	sum := &domain.NegotiationSummary{
		RoomID:         r.id,
		Topic:          r.topic,
		YourPosition:   r.yourPosition,
		CreatedAt:      r.createdAt,
		TotalExchanges: len(r.transcript),
		CardsGenerated: len(r.cards),
		Score:          r.score,
		Cards:          append([]domain.CounterCard(nil), r.cards...),
	}
	for _, c := range r.cards {
		sum.Verdicts.Add(c.Verdict)
	}
	r.stateMu.RUnlock()

	sum.Status = r.Status()
	return sum
}

// Join registers an observer. The history it carries and the broadcasts it
// receives afterwards never overlap nor leave a gap.
func (r *Room) Join(role domain.Role) (*Observer, error) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	if r.Status().Terminal() {
		return nil, domain.NewSessionError("join", r.id, domain.ErrSessionClosed)
	}

	r.stateMu.RLock()
	start := max(0, len(r.cards)-r.opts.LiveCards)
	history := append([]domain.CounterCard(nil), r.cards[start:]...)
	score := r.score
	r.stateMu.RUnlock()

	o := &Observer{
		ID:      uuid.NewString(),
		Role:    role,
		History: history,
		Score:   score,
		room:    r,
		events:  make(chan Event, r.opts.ObserverBuffer),
		done:    make(chan struct{}),
	}
	r.observers[o] = struct{}{}
	r.touch()
	return o, nil
}

// Leave deregisters o without affecting the room.
func (r *Room) Leave(o *Observer) {
	r.obsMu.Lock()
	delete(r.observers, o)
	r.obsMu.Unlock()
	o.close(nil)
	r.touch()
}

// run is the actor: the only writer of transcript, cards and score.
func (r *Room) run() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case req := <-r.inbox:
			req.reply <- r.accept(req.utterance)
		case card := <-r.results:
			r.publish(card)
		}
	}
}

func (r *Room) accept(u domain.Utterance) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	window := r.transcript[max(0, len(r.transcript)-r.opts.ContextWindow):]
	job := analysisJob{
		utterance: u,
		context:   append([]domain.Utterance(nil), window...),
	}
	r.transcript = append(r.transcript, u)
	r.touch()

	if !r.needsAnalysis(u) {
		return nil
	}
	select {
	case r.jobs <- job:
		return nil
	default:
		// the utterance stays in the transcript, only its card is skipped
		return domain.ErrQueueFull
	}
}

// needsAnalysis limits analysis to counterparty statements long enough to carry a claim.
func (r *Room) needsAnalysis(u domain.Utterance) bool {
	return u.Speaker == domain.SpeakerThem && len(strings.TrimSpace(u.Text)) >= r.opts.MinStatementChars
}

// publish appends the card, recomputes the score and broadcasts both in one step.
func (r *Room) publish(card domain.CounterCard) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	if r.ctx.Err() != nil {
		return
	}

	r.stateMu.Lock()
	r.cards = append(r.cards, card)
	r.score = ApplyVerdict(r.score, card.Verdict)
	ev := Event{Card: card, Score: r.score}
	r.stateMu.Unlock()
	r.touch()

	for o := range r.observers {
		select {
		case o.events <- ev:
		default:
			delete(r.observers, o)
			o.close(ErrSlowObserver)
			observability.Logger().Warn("dropping slow observer",
				"session_id", r.id,
				"observer_id", o.ID,
				"role", o.Role,
			)
		}
	}
}

// analyze runs one analysis at a time so cards keep utterance order.
func (r *Room) analyze() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case job := <-r.jobs:
			card := r.counterCard(job)
			select {
			case r.results <- card:
			case <-r.ctx.Done():
				return
			}
		}
	}
}

func (r *Room) counterCard(job analysisJob) domain.CounterCard {
	card := domain.CounterCard{
		CardID:         domain.CardID(uuid.NewString()),
		UtteranceID:    job.utterance.ID,
		TheirStatement: job.utterance.Text,
	}

	res, err := r.callReasoner(job)
	card.Timestamp = r.now()
	if err != nil {
		log := observability.WithFields("session_id", r.id, "utterance_id", job.utterance.ID)
		if errors.Is(err, domain.ErrUpstreamTimeout) {
			log.Warn("reasoning timed out", "timeout", r.opts.ReasoningTimeout)
		} else if r.ctx.Err() == nil {
			log.Error("reasoning failed", "error", err)
		}
		card.Verdict = domain.VerdictUnknown
		card.Explanation = unknownExplanation
		card.Evidence = []string{}
		card.SuggestedQuestions = []string{}
		return card
	}

	card.Verdict = domain.ParseVerdict(string(res.Verdict))
	card.Explanation = res.Explanation
	card.CounterArgument = res.CounterArgument
	card.Evidence = nonNil(res.Evidence)
	card.Confidence = min(max(res.Confidence, 0), 100)
	card.SuggestedQuestions = nonNil(res.SuggestedQuestions)
	return card
}

// callReasoner bounds the call even when the client ignores its context.
func (r *Room) callReasoner(job analysisJob) (*domain.Analysis, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.ReasoningTimeout)
	defer cancel()

	req := domain.AnalysisRequest{
		SessionID:    r.id,
		Topic:        r.topic,
		YourPosition: r.yourPosition,
		Statement:    job.utterance.Text,
		Context:      job.context,
	}

	type outcome struct {
		res *domain.Analysis
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("reasoning client panic: %v", p)}
			}
		}()
		res, err := r.reasoner.Analyze(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.res == nil {
			out.err = errors.New("reasoning client returned no analysis")
		}
		if errors.Is(out.err, context.DeadlineExceeded) {
			out.err = fmt.Errorf("%w: %w", domain.ErrUpstreamTimeout, out.err)
		}
		return out.res, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.ErrUpstreamTimeout
		}
		return nil, ctx.Err()
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Observer receives the cards of one room until it leaves, the room closes,
// or it falls behind.
type Observer struct {
	ID   string
	Role domain.Role
	// History holds the most recent cards and the score at join time.
	History []domain.CounterCard
	Score   int

	room   *Room
	events chan Event
	done   chan struct{}
	once   sync.Once
	err    error
}

func (o *Observer) Events() <-chan Event { return o.events }

// Done is closed when the observer stops receiving events. Buffered events
// may still be drained from Events.
func (o *Observer) Done() <-chan struct{} { return o.done }

// Err tells why Done closed: nil after Leave, domain.ErrSessionClosed or ErrSlowObserver.
func (o *Observer) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

func (o *Observer) RoomID() domain.SessionID { return o.room.id }

func (o *Observer) close(err error) {
	o.once.Do(func() {
		o.err = err
		close(o.done)
	})
}
