package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/equalizer/internal/domain"
)

// MockReasoner gives deterministic verdicts from keyword rules. It is used
// in local mode and in tests; it never calls out.
type MockReasoner struct{}

func NewMockReasoner() *MockReasoner {
	return &MockReasoner{}
}

type mockRule struct {
	words      []string
	verdict    domain.Verdict
	confidence int
	reason     string
	counter    string
}

var mockRules = []mockRule{
	{
		words:      []string{"lowest", "best price", "nobody charges less", "cheapest"},
		verdict:    domain.VerdictFalse,
		confidence: 70,
		reason:     "Superlative price claims are rarely verifiable and usually wrong.",
		counter:    "I have quotes below this. Can you show how you compared?",
	},
	{
		words:      []string{"standard", "always", "never", "everyone", "policy"},
		verdict:    domain.VerdictMisleading,
		confidence: 60,
		reason:     "Appeals to a standard or universal practice usually hide room to negotiate.",
		counter:    "Standard for whom? Please show me the written policy.",
	},
	{
		words:      []string{"usually", "typically", "most", "around"},
		verdict:    domain.VerdictPartiallyTrue,
		confidence: 55,
		reason:     "The claim is hedged; it may hold in general but not in this case.",
		counter:    "What does that mean for my specific case?",
	},
	{
		words:      []string{"receipt", "itemized", "documented", "in writing"},
		verdict:    domain.VerdictTrue,
		confidence: 65,
		reason:     "The statement refers to something that can be checked on paper.",
		counter:    "Good, please send it over so we can go through it line by line.",
	},
}

func (m *MockReasoner) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(req.Statement)
	for _, r := range mockRules {
		for _, w := range r.words {
			if strings.Contains(lower, w) {
				return &domain.Analysis{
					Verdict:         r.verdict,
					Explanation:     r.reason,
					CounterArgument: r.counter,
					Evidence:        []string{fmt.Sprintf("The statement relies on %q.", w)},
					Confidence:      r.confidence,
					SuggestedQuestions: []string{
						"Can you put that in writing?",
						fmt.Sprintf("How does that apply to %s?", req.Topic),
					},
				}, nil
			}
		}
	}

	return &domain.Analysis{
		Verdict:            domain.VerdictUnknown,
		Explanation:        "Not enough context to judge this statement.",
		CounterArgument:    "Could you explain that in more detail?",
		Evidence:           []string{},
		Confidence:         20,
		SuggestedQuestions: []string{"What is that based on?"},
	}, nil
}

// MockTranscriber treats audio bytes as UTF-8 text.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{}
}

func (MockTranscriber) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(audio)), nil
}
