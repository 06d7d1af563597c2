package domain

import "strings"

// Verdict classifies how truthful a counterparty statement is.
type Verdict string

const (
	VerdictTrue          Verdict = "TRUE"
	VerdictPartiallyTrue Verdict = "PARTIALLY_TRUE"
	VerdictMisleading    Verdict = "MISLEADING"
	VerdictFalse         Verdict = "FALSE"
	VerdictUnknown       Verdict = "UNKNOWN"
)

// ParseVerdict normalizes model output. Anything unrecognised, including the
// legacy NEEDS_CONTEXT, is UNKNOWN.
func ParseVerdict(s string) Verdict {
	v := Verdict(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VerdictTrue, VerdictPartiallyTrue, VerdictMisleading, VerdictFalse:
		return v
	default:
		return VerdictUnknown
	}
}

// Utterance is one transcribed statement in a room.
type Utterance struct {
	ID        UtteranceID `json:"utterance_id"`
	Speaker   Speaker     `json:"speaker"`
	Text      string      `json:"text"`
	Timestamp Timestamp   `json:"timestamp"`
}

// CounterCard is the fact-check produced for one counterparty utterance.
// It is never modified after creation.
type CounterCard struct {
	CardID             CardID      `json:"card_id"`
	UtteranceID        UtteranceID `json:"utterance_id"`
	Timestamp          Timestamp   `json:"timestamp"`
	TheirStatement     string      `json:"their_statement"`
	Verdict            Verdict     `json:"verdict"`
	Explanation        string      `json:"explanation"`
	CounterArgument    string      `json:"counter_argument"`
	Evidence           []string    `json:"evidence"`
	Confidence         int         `json:"confidence"`
	SuggestedQuestions []string    `json:"suggested_questions"`
}

// AnalysisRequest is what the reasoning collaborator receives.
type AnalysisRequest struct {
	SessionID    SessionID
	Topic        string
	YourPosition string
	Statement    string
	Context      []Utterance // most recent transcript entries, oldest first
}

// Analysis is the reasoning collaborator's answer.
type Analysis struct {
	Verdict            Verdict
	Explanation        string
	CounterArgument    string
	Evidence           []string
	Confidence         int
	SuggestedQuestions []string
}

// VerdictCounts summarises the cards of a room.
type VerdictCounts struct {
	True          int `json:"true"`
	PartiallyTrue int `json:"partially_true"`
	Misleading    int `json:"misleading"`
	False         int `json:"false"`
	Unknown       int `json:"unknown"`
}

func (c *VerdictCounts) Add(v Verdict) {
	switch v {
	case VerdictTrue:
		c.True++
	case VerdictPartiallyTrue:
		c.PartiallyTrue++
	case VerdictMisleading:
		c.Misleading++
	case VerdictFalse:
		c.False++
	default:
		c.Unknown++
	}
}

// NegotiationSummary is the post-hoc view of a room.
type NegotiationSummary struct {
	RoomID         SessionID     `json:"room_id"`
	Topic          string        `json:"topic"`
	YourPosition   string        `json:"your_position"`
	Status         SessionStatus `json:"status"`
	CreatedAt      Timestamp     `json:"created_at"`
	TotalExchanges int           `json:"total_exchanges"`
	CardsGenerated int           `json:"counter_cards_generated"`
	Score          int           `json:"negotiation_score"`
	Verdicts       VerdictCounts `json:"verdicts"`
	Cards          []CounterCard `json:"cards"`
}
