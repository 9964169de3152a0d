package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/boardroomhq/boardroom/internal/models"
)

// EffectApplication is one team's KPI mutation for a single trigger. The
// store writes the trigger mark, the new current values and any carry-forward
// adjustments in one transaction, so a crash can never leave a mark without
// its effects.
type EffectApplication struct {
	SessionID   uuid.UUID
	TeamID      uuid.UUID
	Trigger     string
	Ref         string
	RowID       uuid.UUID
	Capacity    int
	Orders      int
	Cost        int
	ASP         int
	Adjustments []models.PermanentAdjustment
}

// RoundFinalization freezes a team's derived financials for a round.
type RoundFinalization struct {
	SessionID uuid.UUID
	TeamID    uuid.UUID
	Trigger   string
	Ref       string
	RowID     uuid.UUID
	Revenue   int
	NetIncome int
	NetMargin float64
}

const selectRoundData = `
	SELECT id, session_id, team_id, round,
	       start_capacity, current_capacity, start_orders, current_orders,
	       start_cost, current_cost, start_asp, current_asp,
	       revenue, net_income, net_margin, finalized, created_at, updated_at
	FROM team_round_data
`

func scanRoundData(row pgx.Row) (*models.TeamRoundData, error) {
	var rd models.TeamRoundData
	err := row.Scan(
		&rd.ID, &rd.SessionID, &rd.TeamID, &rd.Round,
		&rd.StartCapacity, &rd.CurrentCapacity, &rd.StartOrders, &rd.CurrentOrders,
		&rd.StartCost, &rd.CurrentCost, &rd.StartASP, &rd.CurrentASP,
		&rd.Revenue, &rd.NetIncome, &rd.NetMargin, &rd.Finalized, &rd.CreatedAt, &rd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rd, nil
}

// GetRoundData loads one team's ledger row for a round. Returns ErrNotFound
// if the row has not been created yet.
func (s *PG) GetRoundData(ctx context.Context, sessionID, teamID uuid.UUID, round int) (*models.TeamRoundData, error) {
	q := selectRoundData + ` WHERE session_id = $1 AND team_id = $2 AND round = $3`
	rd, err := scanRoundData(s.Pool.QueryRow(ctx, q, sessionID, teamID, round))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: round data for team %s round %d", ErrNotFound, teamID, round)
	}
	if err != nil {
		return nil, fmt.Errorf("query round data: %w", err)
	}
	return rd, nil
}

// ListRoundData returns every team's ledger row for one round.
func (s *PG) ListRoundData(ctx context.Context, sessionID uuid.UUID, round int) ([]models.TeamRoundData, error) {
	q := selectRoundData + ` WHERE session_id = $1 AND round = $2 ORDER BY team_id`
	return s.queryRoundData(ctx, q, sessionID, round)
}

// ListTeamRounds returns one team's ledger rows across all rounds.
func (s *PG) ListTeamRounds(ctx context.Context, sessionID, teamID uuid.UUID) ([]models.TeamRoundData, error) {
	q := selectRoundData + ` WHERE session_id = $1 AND team_id = $2 ORDER BY round`
	return s.queryRoundData(ctx, q, sessionID, teamID)
}

func (s *PG) queryRoundData(ctx context.Context, q string, args ...any) ([]models.TeamRoundData, error) {
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query round data: %w", err)
	}
	defer rows.Close()

	var out []models.TeamRoundData
	for rows.Next() {
		rd, err := scanRoundData(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round data: %w", err)
		}
		out = append(out, *rd)
	}
	return out, rows.Err()
}

// CreateRoundData inserts a ledger row, marking the carry-forward adjustments
// that were folded into its starting values as applied. If another writer
// created the row first, the existing row wins and is returned unchanged.
func (s *PG) CreateRoundData(ctx context.Context, rd *models.TeamRoundData, consumed []int64) (*models.TeamRoundData, error) {
	var out *models.TeamRoundData
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		q := `
		INSERT INTO team_round_data (id, session_id, team_id, round,
		       start_capacity, current_capacity, start_orders, current_orders,
		       start_cost, current_cost, start_asp, current_asp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, team_id, round) DO NOTHING
		`
		ct, err := tx.Exec(ctx, q,
			rd.ID, rd.SessionID, rd.TeamID, rd.Round,
			rd.StartCapacity, rd.CurrentCapacity, rd.StartOrders, rd.CurrentOrders,
			rd.StartCost, rd.CurrentCost, rd.StartASP, rd.CurrentASP,
		)
		if err != nil {
			return fmt.Errorf("insert round data: %w", err)
		}

		if ct.RowsAffected() == 0 {
			sel := selectRoundData + ` WHERE session_id = $1 AND team_id = $2 AND round = $3`
			existing, err := scanRoundData(tx.QueryRow(ctx, sel, rd.SessionID, rd.TeamID, rd.Round))
			if err != nil {
				return fmt.Errorf("load existing round data: %w", err)
			}
			out = existing
			return nil
		}

		if len(consumed) > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE permanent_kpi_adjustments SET applied = TRUE WHERE id = ANY($1)`,
				consumed,
			); err != nil {
				return fmt.Errorf("mark adjustments applied: %w", err)
			}
		}
		out = rd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingAdjustments returns unapplied carry-forward adjustments targeting a
// round, in insertion order.
func (s *PG) PendingAdjustments(ctx context.Context, sessionID, teamID uuid.UUID, round int) ([]models.PermanentAdjustment, error) {
	q := `
	SELECT id, session_id, team_id, metric, change_value, is_percent, target_round, source_phase_id, applied, created_at
	FROM permanent_kpi_adjustments
	WHERE session_id = $1 AND team_id = $2 AND target_round = $3 AND NOT applied
	ORDER BY id
	`
	rows, err := s.Pool.Query(ctx, q, sessionID, teamID, round)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	var out []models.PermanentAdjustment
	for rows.Next() {
		var a models.PermanentAdjustment
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.TeamID, &a.Metric, &a.ChangeValue,
			&a.IsPercent, &a.TargetRound, &a.SourcePhaseID, &a.Applied, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyEffects writes one team's effect application atomically. It returns
// false without touching the ledger when the trigger mark already exists,
// which is what makes retries and phase re-entry harmless.
func (s *PG) ApplyEffects(ctx context.Context, app EffectApplication) (bool, error) {
	applied := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := insertTriggerMark(ctx, tx, app.SessionID, app.TeamID, app.Trigger, app.Ref)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		q := `
		UPDATE team_round_data
		SET current_capacity = $1, current_orders = $2, current_cost = $3, current_asp = $4,
		    updated_at = NOW()
		WHERE id = $5
		`
		ct, err := tx.Exec(ctx, q, app.Capacity, app.Orders, app.Cost, app.ASP, app.RowID)
		if err != nil {
			return fmt.Errorf("update round data: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("%w: round data row %s", ErrNotFound, app.RowID)
		}

		for _, a := range app.Adjustments {
			if _, err := tx.Exec(ctx, `
			INSERT INTO permanent_kpi_adjustments (session_id, team_id, metric, change_value, is_percent, target_round, source_phase_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, a.SessionID, a.TeamID, a.Metric, a.ChangeValue, a.IsPercent, a.TargetRound, a.SourcePhaseID); err != nil {
				return fmt.Errorf("insert adjustment: %w", err)
			}
		}

		applied = true
		return nil
	})
	return applied, err
}

// FinalizeRound writes a team's derived financials and freezes the row. Like
// ApplyEffects it is guarded by a trigger mark and returns false when the
// round was already finalized for the team.
func (s *PG) FinalizeRound(ctx context.Context, fin RoundFinalization) (bool, error) {
	applied := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := insertTriggerMark(ctx, tx, fin.SessionID, fin.TeamID, fin.Trigger, fin.Ref)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		q := `
		UPDATE team_round_data
		SET revenue = $1, net_income = $2, net_margin = $3, finalized = TRUE, updated_at = NOW()
		WHERE id = $4
		`
		ct, err := tx.Exec(ctx, q, fin.Revenue, fin.NetIncome, fin.NetMargin, fin.RowID)
		if err != nil {
			return fmt.Errorf("finalize round data: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("%w: round data row %s", ErrNotFound, fin.RowID)
		}

		applied = true
		return nil
	})
	return applied, err
}

func insertTriggerMark(ctx context.Context, tx pgx.Tx, sessionID, teamID uuid.UUID, trigger, ref string) (bool, error) {
	q := `
	INSERT INTO kpi_trigger_marks (session_id, team_id, trigger_kind, ref)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (session_id, team_id, trigger_kind, ref) DO NOTHING
	`
	ct, err := tx.Exec(ctx, q, sessionID, teamID, trigger, ref)
	if err != nil {
		return false, fmt.Errorf("insert trigger mark: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
