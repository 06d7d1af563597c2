package domain

import "time"

type SessionID string
type UtteranceID string
type CardID string

type Timestamp = time.Time

// SessionKind tells which controller owns a session.
type SessionKind string

const (
	KindNegotiation SessionKind = "negotiation"
	KindEscalation  SessionKind = "escalation"
)

// SessionStatus is the registry-level lifecycle of any session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusExpired   SessionStatus = "expired"
)

// Terminal reports whether no further work happens in a session with this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

type Speaker string

const (
	SpeakerHost Speaker = "host" // the party we assist
	SpeakerThem Speaker = "them" // the counterparty
)

// ParseSpeaker accepts the wire names used by older clients too ("you").
func ParseSpeaker(s string) (Speaker, bool) {
	switch s {
	case "them", "":
		return SpeakerThem, true
	case "host", "you":
		return SpeakerHost, true
	default:
		return "", false
	}
}

// Role is how an observer joined a negotiation room.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

func ParseRole(s string) Role {
	if s == string(RoleGuest) {
		return RoleGuest
	}
	return RoleHost
}
