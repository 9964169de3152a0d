package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/boardroomhq/boardroom/internal/models"
)

// InsertDecision records a team's submission for a phase. The unique index
// on (session_id, team_id, phase_id) enforces at-most-once; a violation is
// returned as ErrDuplicateSubmission so callers can treat the race between a
// voluntary submission and a timer auto-submission as a no-op.
func (s *PG) InsertDecision(ctx context.Context, d *models.TeamDecision) error {
	selection, err := json.Marshal(d.Selection)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}

	q := `
	INSERT INTO team_decisions (id, session_id, team_id, phase_id, kind, selection, auto_submitted, submitted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.Pool.Exec(ctx, q,
		d.ID, d.SessionID, d.TeamID, d.PhaseID, d.Kind, selection, d.Auto, d.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: team %s phase %s", ErrDuplicateSubmission, d.TeamID, d.PhaseID)
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetDecision loads a team's submission for a phase. Returns ErrNotFound if
// the team has not submitted.
func (s *PG) GetDecision(ctx context.Context, sessionID, teamID uuid.UUID, phaseID string) (*models.TeamDecision, error) {
	q := `
	SELECT id, session_id, team_id, phase_id, kind, selection, auto_submitted, submitted_at
	FROM team_decisions
	WHERE session_id = $1 AND team_id = $2 AND phase_id = $3
	`
	var (
		d         models.TeamDecision
		selection []byte
	)
	err := s.Pool.QueryRow(ctx, q, sessionID, teamID, phaseID).Scan(
		&d.ID, &d.SessionID, &d.TeamID, &d.PhaseID, &d.Kind, &selection, &d.Auto, &d.SubmittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: decision for team %s phase %s", ErrNotFound, teamID, phaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("query decision: %w", err)
	}
	if err := json.Unmarshal(selection, &d.Selection); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	return &d, nil
}

// ListPhaseDecisions returns every submission for a phase.
func (s *PG) ListPhaseDecisions(ctx context.Context, sessionID uuid.UUID, phaseID string) ([]models.TeamDecision, error) {
	q := `
	SELECT id, session_id, team_id, phase_id, kind, selection, auto_submitted, submitted_at
	FROM team_decisions
	WHERE session_id = $1 AND phase_id = $2
	ORDER BY submitted_at
	`
	rows, err := s.Pool.Query(ctx, q, sessionID, phaseID)
	if err != nil {
		return nil, fmt.Errorf("query phase decisions: %w", err)
	}
	defer rows.Close()

	var out []models.TeamDecision
	for rows.Next() {
		var (
			d         models.TeamDecision
			selection []byte
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &d.TeamID, &d.PhaseID, &d.Kind, &selection, &d.Auto, &d.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := json.Unmarshal(selection, &d.Selection); err != nil {
			return nil, fmt.Errorf("decode selection: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountPhaseDecisions returns how many teams have submitted for a phase.
func (s *PG) CountPhaseDecisions(ctx context.Context, sessionID uuid.UUID, phaseID string) (int, error) {
	q := `SELECT COUNT(*) FROM team_decisions WHERE session_id = $1 AND phase_id = $2`
	var n int
	if err := s.Pool.QueryRow(ctx, q, sessionID, phaseID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count phase decisions: %w", err)
	}
	return n, nil
}

// DeleteDecision removes a team's submission so the team can resubmit while
// the phase is still open. Returns ErrNotFound when there is nothing to
// delete.
func (s *PG) DeleteDecision(ctx context.Context, sessionID, teamID uuid.UUID, phaseID string) error {
	q := `DELETE FROM team_decisions WHERE session_id = $1 AND team_id = $2 AND phase_id = $3`
	ct, err := s.Pool.Exec(ctx, q, sessionID, teamID, phaseID)
	if err != nil {
		return fmt.Errorf("delete decision: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: decision for team %s phase %s", ErrNotFound, teamID, phaseID)
	}
	return nil
}
