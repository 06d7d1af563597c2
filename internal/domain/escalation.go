package domain

import (
	"fmt"
	"strings"
)

// ActionKind selects the executor for an escalation step.
type ActionKind string

const (
	ActionEmail     ActionKind = "email"
	ActionMessaging ActionKind = "messaging"
	ActionDocument  ActionKind = "document"
	ActionSocial    ActionKind = "social"
	ActionVideo     ActionKind = "video"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// CaseFacts is what the initiating party submits to start an escalation.
type CaseFacts struct {
	HospitalName   string  `json:"hospital_name"`
	HospitalCity   string  `json:"hospital_city"`
	Procedure      string  `json:"procedure"`
	BilledAmount   float64 `json:"billed_amount"`
	FairAmount     float64 `json:"fair_amount"`
	PatientName    string  `json:"patient_name"`
	PatientEmail   string  `json:"patient_email"`
	PatientPhone   string  `json:"patient_phone,omitempty"`
	HospitalEmail  string  `json:"hospital_email,omitempty"`
	EscalationType string  `json:"escalation_type,omitempty"`
}

// Validate checks the fields every playbook relies on.
func (f CaseFacts) Validate() error {
	var missing []string
	if strings.TrimSpace(f.HospitalName) == "" {
		missing = append(missing, "hospital_name")
	}
	if strings.TrimSpace(f.Procedure) == "" {
		missing = append(missing, "procedure")
	}
	if strings.TrimSpace(f.PatientName) == "" {
		missing = append(missing, "patient_name")
	}
	if strings.TrimSpace(f.PatientEmail) == "" {
		missing = append(missing, "patient_email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if f.BilledAmount < 0 || f.FairAmount < 0 {
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidInput)
	}
	return nil
}

// CaseFile is the read-only view an action executor gets.
type CaseFile struct {
	ID    SessionID
	Facts CaseFacts
}

func (c CaseFile) Overcharge() float64 {
	return c.Facts.BilledAmount - c.Facts.FairAmount
}

// OverchargePct is the overcharge relative to the fair amount, 0 when unknown.
func (c CaseFile) OverchargePct() float64 {
	if c.Facts.FairAmount <= 0 {
		return 0
	}
	return c.Overcharge() / c.Facts.FairAmount * 100
}

// Reference is the short case number printed on letters and posts.
func (c CaseFile) Reference() string {
	id := strings.ToUpper(strings.ReplaceAll(string(c.ID), "-", ""))
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func (c CaseFile) hospitalSlug() string {
	return strings.ToLower(strings.ReplaceAll(c.Facts.HospitalName, " ", ""))
}

// BillingEmail never resolves to a real hospital unless one was supplied.
func (c CaseFile) BillingEmail() string {
	if c.Facts.HospitalEmail != "" {
		return c.Facts.HospitalEmail
	}
	return "billing@" + c.hospitalSlug() + "xyztest.invalid"
}

func (c CaseFile) AdminEmail() string {
	return "administrator@" + c.hospitalSlug() + "xyztest.invalid"
}

// EscalationStep is one entry of the fixed step list.
type EscalationStep struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ActionKind  ActionKind  `json:"action_kind"`
	Params      Params      `json:"-"`
	Status      StepStatus  `json:"status"`
	Result      *StepResult `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   *Timestamp  `json:"started_at,omitempty"`
	CompletedAt *Timestamp  `json:"completed_at,omitempty"`
}

// Params are playbook-provided executor options (template names, recipients).
type Params map[string]string

func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// StepResult is the payload an executor returns on success.
type StepResult struct {
	Message  string         `json:"message"`
	DemoMode bool           `json:"demo_mode,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// EscalationSummary is attached to session_completed.
type EscalationSummary struct {
	Total     int  `json:"total_steps"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// FullSuccess distinguishes a clean run from a partial one.
func (s EscalationSummary) FullSuccess() bool {
	return !s.Cancelled && s.Failed == 0 && s.Succeeded == s.Total
}

type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventStepStarting     EventType = "step_starting"
	EventStepCompleted    EventType = "step_completed"
	EventStepFailed       EventType = "step_failed"
	EventSessionCompleted EventType = "session_completed"
)

// EscalationEvent is one lifecycle event. Seq is strictly increasing within a session.
type EscalationEvent struct {
	Seq       uint64             `json:"seq"`
	Type      EventType          `json:"type"`
	SessionID SessionID          `json:"session_id"`
	StepIndex int                `json:"step_index"`
	StepID    string             `json:"step_id,omitempty"`
	Result    any                `json:"result"`
	Summary   *EscalationSummary `json:"summary,omitempty"`
	Timestamp Timestamp          `json:"timestamp"`
}

// Terminal reports whether the event closes a step or the session.
func (e EscalationEvent) Terminal() bool {
	switch e.Type {
	case EventStepCompleted, EventStepFailed, EventSessionCompleted:
		return true
	default:
		return false
	}
}

// EscalationSnapshot is the status view of a case.
type EscalationSnapshot struct {
	SessionID    SessionID          `json:"session_id"`
	Status       SessionStatus      `json:"status"`
	Facts        CaseFacts          `json:"case"`
	Steps        []EscalationStep   `json:"steps"`
	CurrentIndex int                `json:"current_index"`
	CreatedAt    Timestamp          `json:"created_at"`
	Summary      *EscalationSummary `json:"summary,omitempty"`
}
