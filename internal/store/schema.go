package store

import (
	"context"
	"fmt"
)

const schema = `
-- Sessions table
CREATE TABLE IF NOT EXISTS sessions (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    content_pack TEXT NOT NULL,
    phase_id TEXT NOT NULL,
    slide_index INT NOT NULL DEFAULT 0,
    is_playing BOOLEAN NOT NULL DEFAULT FALSE,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    notes JSONB NOT NULL DEFAULT '{}',
    phase_activations JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Teams table
CREATE TABLE IF NOT EXISTS teams (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    passcode_hash TEXT NOT NULL,
    display_order INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (session_id, name)
);

-- Team decisions table. The unique index is what makes submissions
-- at-most-once per phase; the store translates its violation into
-- ErrDuplicateSubmission.
CREATE TABLE IF NOT EXISTS team_decisions (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    phase_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    selection JSONB NOT NULL DEFAULT '[]',
    auto_submitted BOOLEAN NOT NULL DEFAULT FALSE,
    submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (session_id, team_id, phase_id)
);

-- Per-team, per-round KPI ledger rows
CREATE TABLE IF NOT EXISTS team_round_data (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    round INT NOT NULL,
    start_capacity INT NOT NULL,
    current_capacity INT NOT NULL,
    start_orders INT NOT NULL,
    current_orders INT NOT NULL,
    start_cost INT NOT NULL,
    current_cost INT NOT NULL,
    start_asp INT NOT NULL,
    current_asp INT NOT NULL,
    revenue BIGINT NOT NULL DEFAULT 0,
    net_income BIGINT NOT NULL DEFAULT 0,
    net_margin DOUBLE PRECISION NOT NULL DEFAULT 0,
    finalized BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (session_id, team_id, round)
);

-- Carry-forward effects waiting for a future round row
CREATE TABLE IF NOT EXISTS permanent_kpi_adjustments (
    id BIGSERIAL PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    metric TEXT NOT NULL,
    change_value DOUBLE PRECISION NOT NULL,
    is_percent BOOLEAN NOT NULL DEFAULT FALSE,
    target_round INT NOT NULL,
    source_phase_id TEXT NOT NULL,
    applied BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Trigger marks. A row here means the (trigger, ref) pair already ran for
-- the team, so re-entering a phase or retrying never applies effects twice.
CREATE TABLE IF NOT EXISTS kpi_trigger_marks (
    id BIGSERIAL PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    trigger_kind TEXT NOT NULL,
    ref TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (session_id, team_id, trigger_kind, ref)
);

-- Append-only audit trail, flushed in batches by the auditor process
CREATE TABLE IF NOT EXISTS audit_log (
    id BIGSERIAL PRIMARY KEY,
    session_id UUID NOT NULL,
    actor TEXT NOT NULL,
    action TEXT NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}',
    recorded_at TIMESTAMPTZ NOT NULL
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_teams_session ON teams(session_id);
CREATE INDEX IF NOT EXISTS idx_decisions_session_phase ON team_decisions(session_id, phase_id);
CREATE INDEX IF NOT EXISTS idx_round_data_session_round ON team_round_data(session_id, round);
CREATE INDEX IF NOT EXISTS idx_adjustments_pending ON permanent_kpi_adjustments(session_id, team_id, target_round) WHERE NOT applied;
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id);
`

// Migrate creates any missing tables and indexes. Every statement is
// idempotent, so running it on boot is safe.
func (s *PG) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
