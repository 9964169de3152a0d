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

// CreateSession inserts a new session row.
func (s *PG) CreateSession(ctx context.Context, sess *models.Session) error {
	notes, err := json.Marshal(sess.Notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	activations, err := json.Marshal(sess.PhaseActivations)
	if err != nil {
		return fmt.Errorf("marshal phase activations: %w", err)
	}

	q := `
	INSERT INTO sessions (id, name, content_pack, phase_id, slide_index, is_playing, completed, notes, phase_activations)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.Pool.Exec(ctx, q,
		sess.ID, sess.Name, sess.ContentPack,
		sess.PhaseID, sess.SlideIndex, sess.Playing, sess.Completed,
		notes, activations,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by id. Returns ErrNotFound if no row exists.
func (s *PG) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	q := `
	SELECT id, name, content_pack, phase_id, slide_index, is_playing, completed,
	       notes, phase_activations, created_at, updated_at
	FROM sessions
	WHERE id = $1
	`
	var (
		sess        models.Session
		notes       []byte
		activations []byte
	)
	err := s.Pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.Name, &sess.ContentPack,
		&sess.PhaseID, &sess.SlideIndex, &sess.Playing, &sess.Completed,
		&notes, &activations, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	if err := json.Unmarshal(notes, &sess.Notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	if err := json.Unmarshal(activations, &sess.PhaseActivations); err != nil {
		return nil, fmt.Errorf("decode phase activations: %w", err)
	}
	return &sess, nil
}

// ListSessions returns every session, newest first.
func (s *PG) ListSessions(ctx context.Context) ([]models.Session, error) {
	q := `
	SELECT id, name, content_pack, phase_id, slide_index, is_playing, completed, created_at, updated_at
	FROM sessions
	ORDER BY created_at DESC
	`
	rows, err := s.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(
			&sess.ID, &sess.Name, &sess.ContentPack,
			&sess.PhaseID, &sess.SlideIndex, &sess.Playing, &sess.Completed,
			&sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SaveSessionPosition persists the navigable state of a session: current
// phase and slide, play state, completion and the phase activation stamps.
func (s *PG) SaveSessionPosition(ctx context.Context, sess *models.Session) error {
	activations, err := json.Marshal(sess.PhaseActivations)
	if err != nil {
		return fmt.Errorf("marshal phase activations: %w", err)
	}

	q := `
	UPDATE sessions
	SET phase_id = $1, slide_index = $2, is_playing = $3, completed = $4,
	    phase_activations = $5, updated_at = NOW()
	WHERE id = $6
	`
	ct, err := s.Pool.Exec(ctx, q,
		sess.PhaseID, sess.SlideIndex, sess.Playing, sess.Completed,
		activations, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session position: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, sess.ID)
	}
	return nil
}

// SaveSessionNotes persists the host's per-slide notes.
func (s *PG) SaveSessionNotes(ctx context.Context, id uuid.UUID, notes map[string]string) error {
	data, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}

	q := `UPDATE sessions SET notes = $1, updated_at = NOW() WHERE id = $2`
	ct, err := s.Pool.Exec(ctx, q, data, id)
	if err != nil {
		return fmt.Errorf("update session notes: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return nil
}
