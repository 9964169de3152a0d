package kpi

import (
	"fmt"

	"github.com/google/uuid"
)

// TeamFailure is one team's error during a trigger run.
type TeamFailure struct {
	TeamID   uuid.UUID
	TeamName string
	Err      error
}

// ProcessingError reports which teams a trigger could not be applied to.
// Teams that succeeded are already marked, so running the trigger again
// only touches the teams listed here.
type ProcessingError struct {
	Trigger  Trigger
	PhaseID  string
	Failures []TeamFailure
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s for phase %s failed for %d team(s)", e.Trigger, e.PhaseID, len(e.Failures))
}

// TeamNames returns the failing teams for operator-facing messages.
func (e *ProcessingError) TeamNames() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.TeamName)
	}
	return names
}
