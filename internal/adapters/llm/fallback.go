package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

// Named labels a reasoner for logs.
type Named struct {
	Name   string
	Client domain.ReasoningClient
}

// Fallback tries each reasoner in order and returns the first answer.
type Fallback struct {
	chain []Named
}

func NewFallback(chain ...Named) *Fallback {
	return &Fallback{chain: chain}
}

func (f *Fallback) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
	if len(f.chain) == 0 {
		return nil, errors.New("no reasoning clients configured")
	}

	log := observability.LoggerFromContext(ctx)
	var errs []error
	for _, n := range f.chain {
		a, err := n.Client.Analyze(ctx, req)
		if err == nil {
			return a, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))

		// the caller's deadline covers the whole chain
		if ctx.Err() != nil {
			break
		}
		log.Warn("reasoner failed, trying next", "reasoner", n.Name, "error", err)
	}
	return nil, errors.Join(errs...)
}
