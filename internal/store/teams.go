package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/boardroomhq/boardroom/internal/models"
)

// CreateTeam inserts a team row.
func (s *PG) CreateTeam(ctx context.Context, t *models.Team) error {
	q := `
	INSERT INTO teams (id, session_id, name, passcode_hash, display_order)
	VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.Pool.Exec(ctx, q, t.ID, t.SessionID, t.Name, t.PasscodeHash, t.DisplayOrder)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("team %q already exists in session %s", t.Name, t.SessionID)
		}
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

// ListTeams returns all teams in a session in display order.
func (s *PG) ListTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error) {
	q := `
	SELECT id, session_id, name, passcode_hash, display_order, created_at
	FROM teams
	WHERE session_id = $1
	ORDER BY display_order, created_at
	`
	rows, err := s.Pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query teams: %w", err)
	}
	defer rows.Close()

	var out []models.Team
	for rows.Next() {
		var t models.Team
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Name, &t.PasscodeHash, &t.DisplayOrder, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTeam loads a single team by id. Returns ErrNotFound if no row exists.
func (s *PG) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	q := `
	SELECT id, session_id, name, passcode_hash, display_order, created_at
	FROM teams
	WHERE id = $1
	`
	var t models.Team
	err := s.Pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.SessionID, &t.Name, &t.PasscodeHash, &t.DisplayOrder, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: team %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query team: %w", err)
	}
	return &t, nil
}

// GetTeamByName looks a team up by its session-scoped name. Used by login.
func (s *PG) GetTeamByName(ctx context.Context, sessionID uuid.UUID, name string) (*models.Team, error) {
	q := `
	SELECT id, session_id, name, passcode_hash, display_order, created_at
	FROM teams
	WHERE session_id = $1 AND name = $2
	`
	var t models.Team
	err := s.Pool.QueryRow(ctx, q, sessionID, name).Scan(&t.ID, &t.SessionID, &t.Name, &t.PasscodeHash, &t.DisplayOrder, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: team %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("query team by name: %w", err)
	}
	return &t, nil
}
