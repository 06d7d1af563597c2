package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PabloGalante/equalizer/internal/domain"
)

const analysisSystemPrompt = `
You are a real-time negotiation assistant. You sit on the user's side of a live
conversation and fact-check what the other party says.

For every statement you receive:
- Decide whether it is TRUE, PARTIALLY_TRUE, MISLEADING or FALSE. Use UNKNOWN
  when you cannot tell without more context.
- Explain the verdict in one or two sentences.
- Give the user a short counter-argument they can say out loud.
- List concrete evidence (prices, regulations, common practice) when you have it.
- Suggest one to three questions that put pressure on weak claims.

Be direct and specific. Never invent numbers you are not reasonably sure about.

Respond with JSON only, no prose around it:
{
  "verdict": "TRUE | PARTIALLY_TRUE | MISLEADING | FALSE | UNKNOWN",
  "explanation": "...",
  "counter_argument": "...",
  "evidence": ["..."],
  "suggested_questions": ["..."],
  "confidence": 0-100
}
`

// Prompt represents the system prompt + the content to send as "user".
type Prompt struct {
	System string
	User   string
}

// BuildAnalysisPrompt renders the negotiation context and the statement to check.
func BuildAnalysisPrompt(req domain.AnalysisRequest) Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "TOPIC: %s\n", req.Topic)
	if req.YourPosition != "" {
		fmt.Fprintf(&b, "MY POSITION: %s\n", req.YourPosition)
	}

	if len(req.Context) > 0 {
		b.WriteString("\nRECENT CONVERSATION:\n")
		for _, u := range req.Context {
			fmt.Fprintf(&b, "- %s: %s\n", u.Speaker, u.Text)
		}
	}

	b.WriteString("\nTHEIR LATEST STATEMENT:\n")
	b.WriteString(req.Statement)

	return Prompt{
		System: analysisSystemPrompt,
		User:   b.String(),
	}
}

type analysisJSON struct {
	Verdict            string   `json:"verdict"`
	Explanation        string   `json:"explanation"`
	CounterArgument    string   `json:"counter_argument"`
	Evidence           []string `json:"evidence"`
	SuggestedQuestions []string `json:"suggested_questions"`
	Confidence         *float64 `json:"confidence"`
}

// ParseAnalysis decodes a model answer. Markdown fences and a leading "json"
// tag are tolerated; an unparseable answer is an error.
func ParseAnalysis(text string) (*domain.Analysis, error) {
	raw := stripFences(text)
	if raw == "" {
		return nil, fmt.Errorf("empty analysis")
	}

	var a analysisJSON
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decoding analysis: %w", err)
	}

	confidence := 50
	if a.Confidence != nil {
		confidence = int(*a.Confidence)
	}
	confidence = max(0, min(100, confidence))

	return &domain.Analysis{
		Verdict:            domain.ParseVerdict(a.Verdict),
		Explanation:        strings.TrimSpace(a.Explanation),
		CounterArgument:    strings.TrimSpace(a.CounterArgument),
		Evidence:           nonEmpty(a.Evidence),
		Confidence:         confidence,
		SuggestedQuestions: nonEmpty(a.SuggestedQuestions),
	}, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)

	// models sometimes wrap the object in a sentence
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i > 0 && j > i {
		s = s[i : j+1]
	}
	return s
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
