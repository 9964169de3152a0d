package models

import (
	"time"

	"github.com/google/uuid"
)

// Team is one participating table/device group. Created at game setup and
// read-only to the engine afterwards.
type Team struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`

	// PasscodeHash is the argon2id encoding of the team's access passcode.
	PasscodeHash string `json:"-"`

	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}
