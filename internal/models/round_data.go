package models

import (
	"time"

	"github.com/google/uuid"
)

// TeamRoundData is one team's KPI ledger row for one round (1-3).
//
// start_* values are frozen at row creation; current_* values are mutated only
// by the effect processor. The derived revenue/net-income/net-margin figures
// are filled in at round finalization and never recomputed afterwards.
type TeamRoundData struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	TeamID    uuid.UUID `json:"team_id"`
	Round     int       `json:"round"`

	StartCapacity   int `json:"start_capacity"`
	CurrentCapacity int `json:"current_capacity"`
	StartOrders     int `json:"start_orders"`
	CurrentOrders   int `json:"current_orders"`
	StartCost       int `json:"start_cost"`
	CurrentCost     int `json:"current_cost"`
	StartASP        int `json:"start_asp"`
	CurrentASP      int `json:"current_asp"`

	Revenue   int     `json:"revenue"`
	NetIncome int     `json:"net_income"`
	NetMargin float64 `json:"net_margin"`
	Finalized bool    `json:"finalized"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PermanentAdjustment is a queued carry-forward KPI change. Rows are written
// when a carry-forward effect fires and consumed, never deleted, when the
// target round's ledger row is first created.
type PermanentAdjustment struct {
	ID            int64     `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	TeamID        uuid.UUID `json:"team_id"`
	Metric        string    `json:"metric"`
	ChangeValue   float64   `json:"change_value"`
	IsPercent     bool      `json:"is_percent"`
	TargetRound   int       `json:"target_round"`
	SourcePhaseID string    `json:"source_phase_id"`
	Applied       bool      `json:"applied"`
	CreatedAt     time.Time `json:"created_at"`
}
