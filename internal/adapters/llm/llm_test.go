package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PabloGalante/equalizer/internal/domain"
)

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		verdict    domain.Verdict
		confidence int
		wantErr    bool
	}{
		{
			name:       "plain json",
			in:         `{"verdict":"FALSE","explanation":"no","counter_argument":"ask","evidence":["a"],"suggested_questions":["q"],"confidence":90}`,
			verdict:    domain.VerdictFalse,
			confidence: 90,
		},
		{
			name:       "fenced with tag",
			in:         "```json\n{\"verdict\":\"misleading\",\"confidence\":40}\n```",
			verdict:    domain.VerdictMisleading,
			confidence: 40,
		},
		{
			name:       "legacy needs context",
			in:         `{"verdict":"NEEDS_CONTEXT"}`,
			verdict:    domain.VerdictUnknown,
			confidence: 50,
		},
		{
			name:       "wrapped in prose",
			in:         `Here you go: {"verdict":"TRUE","confidence":150} hope it helps`,
			verdict:    domain.VerdictTrue,
			confidence: 100,
		},
		{name: "garbage", in: "I cannot help with that", wantErr: true},
		{name: "empty", in: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAnalysis(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", a)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAnalysis: %v", err)
			}
			if a.Verdict != tt.verdict {
				t.Errorf("verdict = %s, want %s", a.Verdict, tt.verdict)
			}
			if a.Confidence != tt.confidence {
				t.Errorf("confidence = %d, want %d", a.Confidence, tt.confidence)
			}
			if a.Evidence == nil || a.SuggestedQuestions == nil {
				t.Error("lists must not be nil")
			}
		})
	}
}

func TestBuildAnalysisPrompt(t *testing.T) {
	p := BuildAnalysisPrompt(domain.AnalysisRequest{
		Topic:        "MRI bill",
		YourPosition: "fair price is 8000",
		Statement:    "This is our standard rate",
		Context: []domain.Utterance{
			{Speaker: domain.SpeakerHost, Text: "Why 25000?"},
			{Speaker: domain.SpeakerThem, Text: "It includes contrast."},
		},
	})

	for _, want := range []string{"TOPIC: MRI bill", "MY POSITION: fair price is 8000", "- host: Why 25000?", "- them: It includes contrast.", "THEIR LATEST STATEMENT:\nThis is our standard rate"} {
		if !strings.Contains(p.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, p.User)
		}
	}
	if !strings.Contains(p.System, "JSON") {
		t.Error("system prompt should ask for JSON")
	}
}

type reasonerFunc func(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error)

func (f reasonerFunc) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
	return f(ctx, req)
}

func TestFallbackUsesNextReasoner(t *testing.T) {
	failing := reasonerFunc(func(context.Context, domain.AnalysisRequest) (*domain.Analysis, error) {
		return nil, errors.New("quota exceeded")
	})
	f := NewFallback(Named{"primary", failing}, Named{"mock", NewMockReasoner()})

	a, err := f.Analyze(context.Background(), domain.AnalysisRequest{Statement: "This is standard for everyone"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Verdict != domain.VerdictMisleading {
		t.Errorf("verdict = %s", a.Verdict)
	}
}

func TestFallbackStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var second bool
	f := NewFallback(
		Named{"primary", reasonerFunc(func(context.Context, domain.AnalysisRequest) (*domain.Analysis, error) {
			cancel()
			return nil, context.Canceled
		})},
		Named{"secondary", reasonerFunc(func(context.Context, domain.AnalysisRequest) (*domain.Analysis, error) {
			second = true
			return &domain.Analysis{}, nil
		})},
	)

	if _, err := f.Analyze(ctx, domain.AnalysisRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if second {
		t.Error("secondary must not run after the context ended")
	}
	if _, err := NewFallback().Analyze(context.Background(), domain.AnalysisRequest{}); err == nil {
		t.Error("empty chain must fail")
	}
}

func TestMockReasoner(t *testing.T) {
	m := NewMockReasoner()
	cases := map[string]domain.Verdict{
		"We have the lowest prices in the city":  domain.VerdictFalse,
		"That is our standard package rate":      domain.VerdictMisleading,
		"Patients usually stay two nights":       domain.VerdictPartiallyTrue,
		"The itemized bill was sent yesterday":   domain.VerdictTrue,
		"The weather is nice this time of year.": domain.VerdictUnknown,
	}
	for stmt, want := range cases {
		a, err := m.Analyze(context.Background(), domain.AnalysisRequest{Topic: "bill", Statement: stmt})
		if err != nil {
			t.Fatalf("Analyze(%q): %v", stmt, err)
		}
		if a.Verdict != want {
			t.Errorf("Analyze(%q) = %s, want %s", stmt, a.Verdict, want)
		}
	}
}

func TestMockTranscriber(t *testing.T) {
	text, err := NewMockTranscriber().Transcribe(context.Background(), []byte("  hello there \n"), "audio/webm")
	if err != nil || text != "hello there" {
		t.Errorf("Transcribe = %q, %v", text, err)
	}
}
