package actions

import (
	"context"
	"fmt"

	"github.com/PabloGalante/equalizer/internal/domain"
)

type draftKind struct {
	message string
	portal  string
}

var drafts = map[string]draftKind{
	"rti": {
		message: "RTI request generated",
		portal:  "https://rtionline.gov.in/",
	},
	"consumer_court": {
		message: "Consumer court complaint prepared",
		portal:  "https://e-jagriti.gov.in/",
	},
}

// DocumentExecutor prepares filings the patient submits on a government
// portal. It has no live mode: documents are always drafts.
type DocumentExecutor struct {
	settings Settings
}

func NewDocumentExecutor(s Settings) *DocumentExecutor {
	return &DocumentExecutor{settings: s}
}

func (d *DocumentExecutor) Execute(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
	name := step.Params.Get("template", "rti")
	kind, ok := drafts[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown document %q", domain.ErrInvalidInput, name)
	}

	data := newLetter(c)
	text, err := render(name, data)
	if err != nil {
		return nil, err
	}

	if d.settings.DemoMode {
		if err := pause(ctx, d.settings.DemoDelay); err != nil {
			return nil, err
		}
	}

	payload := map[string]any{
		"document":      text,
		"portal":        kind.portal,
		"ready_to_file": true,
	}
	if name == "consumer_court" {
		payload["claim_amount"] = data.Claim
	}
	return &domain.StepResult{
		Message:  kind.message,
		DemoMode: d.settings.DemoMode,
		Data:     payload,
	}, nil
}
