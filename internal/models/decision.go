package models

import (
	"time"

	"github.com/google/uuid"
)

// DecisionKind distinguishes the payload shape of a team submission.
type DecisionKind string

const (
	DecisionChoice     DecisionKind = "choice"
	DecisionInvestment DecisionKind = "investment"
	DecisionDoubleDown DecisionKind = "doubledown"
)

// TeamDecision is one team's one-shot submission for one interactive phase.
// At most one row may exist per (session, team, phase); the database enforces
// that, not the callers.
type TeamDecision struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"session_id"`
	TeamID    uuid.UUID    `json:"team_id"`
	PhaseID   string       `json:"phase_id"`
	Kind      DecisionKind `json:"kind"`

	// Selection holds the chosen option ids: exactly one for a choice phase,
	// a set for investment and double-down phases.
	Selection []string `json:"selection"`

	// Auto marks submissions synthesized by the countdown timer rather than
	// sent by the team.
	Auto bool `json:"auto"`

	SubmittedAt time.Time `json:"submitted_at"`
}
