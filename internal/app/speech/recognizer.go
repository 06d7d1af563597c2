// Package speech turns a stream of audio chunks into counterparty utterances.
//
// A Recognizer moves through idle → listening → stopping → idle. Every move is
// explicit: nothing restarts listening on its own once a stream has drained.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

var ErrInvalidTransition = errors.New("invalid recognizer transition")

type State int

const (
	StateIdle State = iota
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sink receives every non-empty transcription, in chunk order.
type Sink func(ctx context.Context, text string) error

type Options struct {
	MIMEType  string
	Timeout   time.Duration
	QueueSize int
}

type Recognizer struct {
	transcriber domain.Transcriber
	sink        Sink
	opts        Options

	mu      sync.Mutex
	state   State
	chunks  chan []byte
	drained chan struct{}
	cancel  context.CancelFunc
}

func NewRecognizer(t domain.Transcriber, sink Sink, opts Options) *Recognizer {
	if opts.MIMEType == "" {
		opts.MIMEType = "audio/webm"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Recognizer{transcriber: t, sink: sink, opts: opts}
}

func (r *Recognizer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins a stream. Only valid while idle.
func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, r.state)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.state = StateListening
	r.chunks = make(chan []byte, r.opts.QueueSize)
	r.drained = make(chan struct{})
	r.cancel = cancel
	go r.work(ctx, r.chunks, r.drained)
	return nil
}

// Feed queues one audio chunk. Only valid while listening.
func (r *Recognizer) Feed(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateListening {
		return fmt.Errorf("%w: feed while %s", ErrInvalidTransition, r.state)
	}
	if len(chunk) == 0 {
		return nil
	}
	select {
	case r.chunks <- chunk:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Stop ends the stream. Queued chunks are still transcribed; the returned
// channel closes once they are and the recognizer is idle again.
func (r *Recognizer) Stop() (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateListening {
		return nil, fmt.Errorf("%w: stop while %s", ErrInvalidTransition, r.state)
	}
	r.state = StateStopping
	close(r.chunks)
	return r.drained, nil
}

// Abort drops queued chunks and returns to idle from any state.
func (r *Recognizer) Abort() {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return
	}
	if r.state == StateListening {
		close(r.chunks)
	}
	r.state = StateStopping
	cancel, drained := r.cancel, r.drained
	r.mu.Unlock()

	cancel()
	<-drained
}

func (r *Recognizer) work(ctx context.Context, chunks <-chan []byte, drained chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.state = StateIdle
		r.cancel()
		r.mu.Unlock()
		close(drained)
	}()

	log := observability.LoggerFromContext(ctx)
	for chunk := range chunks {
		if ctx.Err() != nil {
			continue
		}
		text, err := r.transcribe(ctx, chunk)
		if err != nil {
			log.Warn("transcription failed", "bytes", len(chunk), "error", err)
			continue
		}
		if text == "" {
			continue
		}
		if err := r.sink(ctx, text); err != nil {
			log.Warn("transcribed utterance rejected", "error", err)
		}
	}
}

func (r *Recognizer) transcribe(ctx context.Context, chunk []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	text, err := r.transcriber.Transcribe(ctx, chunk, r.opts.MIMEType)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: %w", domain.ErrUpstreamTimeout, err)
	}
	return strings.TrimSpace(text), err
}
