package domain

import "context"

// ReasoningClient evaluates one counterparty statement.
type ReasoningClient interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)
}

// Transcriber converts one audio chunk into text. Empty text is not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// ActionExecutor performs the side effect of one escalation step.
type ActionExecutor interface {
	Execute(ctx context.Context, c CaseFile, step EscalationStep) (*StepResult, error)
}

// ArchiveRecord is a closed session kept for post-hoc review.
type ArchiveRecord struct {
	SessionID SessionID     `json:"session_id"`
	Kind      SessionKind   `json:"kind"`
	Status    SessionStatus `json:"status"`
	CreatedAt Timestamp     `json:"created_at"`
	ClosedAt  Timestamp     `json:"closed_at"`
	Title     string        `json:"title"`

	Negotiation *NegotiationSummary `json:"negotiation,omitempty"`
	Escalation  *EscalationSnapshot `json:"escalation,omitempty"`
}

// ArchiveStore persists closed-session records.
type ArchiveStore interface {
	SaveRecord(ctx context.Context, rec *ArchiveRecord) error
	GetRecord(ctx context.Context, id SessionID) (*ArchiveRecord, error)
	ListRecords(ctx context.Context, kind SessionKind, limit int) ([]*ArchiveRecord, error)
}
