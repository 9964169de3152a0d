package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one live run of the simulation. The orchestrator is the only
// writer; every navigation transition is persisted here so a reload resumes
// exactly where the host left off.
type Session struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ContentPack string    `json:"content_pack"`

	PhaseID    string `json:"phase_id"`
	SlideIndex int    `json:"slide_index"`
	Playing    bool   `json:"playing"`
	Completed  bool   `json:"completed"`

	// Notes maps slide id to the host's private presenter notes.
	Notes map[string]string `json:"notes,omitempty"`

	// PhaseActivations maps phase id to the moment its first decision-input
	// slide became current. Countdown deadlines derive from these stamps.
	PhaseActivations map[string]time.Time `json:"phase_activations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
