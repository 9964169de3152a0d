// Package kpi turns recorded decisions into ledger mutations. Every mutation
// runs under a trigger mark, so leaving a phase twice, retrying after a
// partial failure or replaying a navigation never double-applies an effect.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

// Trigger names one of the scripted KPI mutation points.
type Trigger string

const (
	// TriggerChoice resolves challenge consequences when a choice phase is left.
	TriggerChoice Trigger = "choice_resolution"
	// TriggerPayoff applies investment payoffs when a payoff phase is left.
	TriggerPayoff Trigger = "investment_payoff"
	// TriggerFinalize freezes round financials when a kpi phase is left.
	TriggerFinalize Trigger = "round_finalization"
)

// Store is the slice of the datastore the processor needs. *store.PG
// satisfies it; tests use an in-memory fake.
type Store interface {
	ListTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error)
	GetDecision(ctx context.Context, sessionID, teamID uuid.UUID, phaseID string) (*models.TeamDecision, error)
	GetRoundData(ctx context.Context, sessionID, teamID uuid.UUID, round int) (*models.TeamRoundData, error)
	CreateRoundData(ctx context.Context, rd *models.TeamRoundData, consumed []int64) (*models.TeamRoundData, error)
	PendingAdjustments(ctx context.Context, sessionID, teamID uuid.UUID, round int) ([]models.PermanentAdjustment, error)
	ApplyEffects(ctx context.Context, app store.EffectApplication) (bool, error)
	FinalizeRound(ctx context.Context, fin store.RoundFinalization) (bool, error)
}

// Processor applies a pack's effect tables to session ledgers.
type Processor struct {
	pack  *content.Pack
	store Store
}

func NewProcessor(pack *content.Pack, st Store) *Processor {
	return &Processor{pack: pack, store: st}
}

// ApplyPhaseExit runs whatever trigger the phase kind carries. Leaving a
// choice phase resolves consequences, leaving a payoff phase applies
// investment payoffs, leaving a kpi phase finalizes the round. Other kinds
// are no-ops. Errors are per-team: teams that succeed are marked and a
// *ProcessingError names the rest.
func (p *Processor) ApplyPhaseExit(ctx context.Context, sessionID uuid.UUID, ph *content.Phase) error {
	switch ph.Kind {
	case content.PhaseChoice:
		return p.resolveChoices(ctx, sessionID, ph)
	case content.PhasePayoff:
		return p.applyPayoffs(ctx, sessionID, ph)
	case content.PhaseKPI:
		return p.finalizeRound(ctx, sessionID, ph)
	default:
		return nil
	}
}

// resolveChoices applies each team's chosen consequence. Teams that never
// submitted get the pack's default option.
func (p *Processor) resolveChoices(ctx context.Context, sessionID uuid.UUID, ph *content.Phase) error {
	teams, err := p.store.ListTeams(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}

	var failures []TeamFailure
	for _, team := range teams {
		optionID, err := p.chosenOption(ctx, sessionID, team.ID, ph)
		if err != nil {
			failures = append(failures, TeamFailure{TeamID: team.ID, TeamName: team.Name, Err: err})
			continue
		}
		effects := p.pack.ConsequenceEffects(ph.DataKey, optionID)
		if _, err := p.applyTeamEffects(ctx, sessionID, team.ID, ph.Round, TriggerChoice, ph.ID, effects); err != nil {
			failures = append(failures, TeamFailure{TeamID: team.ID, TeamName: team.Name, Err: err})
		}
	}
	if len(failures) > 0 {
		return &ProcessingError{Trigger: TriggerChoice, PhaseID: ph.ID, Failures: failures}
	}
	return nil
}

func (p *Processor) chosenOption(ctx context.Context, sessionID, teamID uuid.UUID, ph *content.Phase) (string, error) {
	dec, err := p.store.GetDecision(ctx, sessionID, teamID, ph.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return "", err
	case len(dec.Selection) > 0:
		return dec.Selection[0], nil
	}

	opt, ok := p.pack.DefaultChallengeOption(ph.DataKey)
	if !ok {
		return "", fmt.Errorf("no challenge options for data key %q", ph.DataKey)
	}
	return opt.ID, nil
}

// applyPayoffs applies the payoff effects of every option a team purchased
// in the round's investment phase. Options the team doubled down on have
// their effect list applied twice, back to back, so percentage payoffs
// compound.
func (p *Processor) applyPayoffs(ctx context.Context, sessionID uuid.UUID, ph *content.Phase) error {
	inv, ok := p.pack.InvestmentPhaseForRound(ph.Round)
	if !ok {
		return fmt.Errorf("no investment phase in round %d", ph.Round)
	}
	ddPhase, hasDD := p.pack.DoubleDownPhaseForRound(ph.Round)

	teams, err := p.store.ListTeams(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}

	var failures []TeamFailure
	for _, team := range teams {
		dec, err := p.store.GetDecision(ctx, sessionID, team.ID, inv.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Never invested, nothing to pay off.
			continue
		}
		if err != nil {
			failures = append(failures, TeamFailure{TeamID: team.ID, TeamName: team.Name, Err: err})
			continue
		}

		doubled := make(map[string]bool)
		if hasDD {
			dd, err := p.store.GetDecision(ctx, sessionID, team.ID, ddPhase.ID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				failures = append(failures, TeamFailure{TeamID: team.ID, TeamName: team.Name, Err: err})
				continue
			}
			if err == nil {
				for _, id := range dd.Selection {
					doubled[id] = true
				}
			}
		}

		var all []content.Effect
		for _, optionID := range dec.Selection {
			effects := p.pack.PayoffEffects(ph.DataKey, optionID)
			all = append(all, effects...)
			if doubled[optionID] {
				all = append(all, effects...)
			}
		}

		if _, err := p.applyTeamEffects(ctx, sessionID, team.ID, ph.Round, TriggerPayoff, ph.ID, all); err != nil {
			failures = append(failures, TeamFailure{TeamID: team.ID, TeamName: team.Name, Err: err})
		}
	}
	if len(failures) > 0 {
		return &ProcessingError{Trigger: TriggerPayoff, PhaseID: ph.ID, Failures: failures}
	}
	return nil
}

// finalizeRound computes and freezes each team's derived financials.
func (p *Processor) finalizeRound(ctx context.Context, sessionID uuid.UUID, ph *content.Phase) error {
	teams, err := p.store.ListTeams(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}

	var failures []TeamFailure
	for _, team := range teams {
		rd, err := p.ensureRoundData(ctx, sessionID, team.ID, ph.Round)
		if err != nil {
			failures = append(failures, TeamFailure{TeamID: team.ID, TeamName: team.Name, Err: err})
			continue
		}

		revenue := rd.CurrentOrders * rd.CurrentASP
		netIncome := revenue - rd.CurrentCost
		var margin float64
		if revenue != 0 {
			margin = float64(netIncome) / float64(revenue)
		}

		_, err = p.store.FinalizeRound(ctx, store.RoundFinalization{
			SessionID: sessionID,
			TeamID:    team.ID,
			Trigger:   string(TriggerFinalize),
			Ref:       ph.ID,
			RowID:     rd.ID,
			Revenue:   revenue,
			NetIncome: netIncome,
			NetMargin: margin,
		})
		if err != nil {
			failures = append(failures, TeamFailure{TeamID: team.ID, TeamName: team.Name, Err: err})
		}
	}
	if len(failures) > 0 {
		return &ProcessingError{Trigger: TriggerFinalize, PhaseID: ph.ID, Failures: failures}
	}
	return nil
}

// RoundData exposes ensured ledger rows for snapshots: the row is created on
// first read so a KPI reveal never shows an empty table.
func (p *Processor) RoundData(ctx context.Context, sessionID, teamID uuid.UUID, round int) (*models.TeamRoundData, error) {
	return p.ensureRoundData(ctx, sessionID, teamID, round)
}

// ensureRoundData returns the team's ledger row for a round, creating it
// lazily. New rows start from the previous round's closing values (the pack
// baseline for round 1) with any pending carry-forward adjustments folded in
// insertion order. Folded adjustments are marked applied in the same
// transaction that creates the row.
func (p *Processor) ensureRoundData(ctx context.Context, sessionID, teamID uuid.UUID, round int) (*models.TeamRoundData, error) {
	rd, err := p.store.GetRoundData(ctx, sessionID, teamID, round)
	if err == nil {
		return rd, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if round < 1 || round > 3 {
		return nil, fmt.Errorf("round %d out of range", round)
	}

	var vals kpiValues
	if round == 1 {
		k := p.pack.StartingKPIs
		vals = kpiValues{capacity: k.Capacity, orders: k.Orders, cost: k.Cost, asp: k.ASP}
	} else {
		prev, err := p.ensureRoundData(ctx, sessionID, teamID, round-1)
		if err != nil {
			return nil, err
		}
		vals = kpiValues{capacity: prev.CurrentCapacity, orders: prev.CurrentOrders, cost: prev.CurrentCost, asp: prev.CurrentASP}
	}

	pending, err := p.store.PendingAdjustments(ctx, sessionID, teamID, round)
	if err != nil {
		return nil, err
	}
	consumed := make([]int64, 0, len(pending))
	for _, a := range pending {
		vals.apply(content.Metric(a.Metric), a.ChangeValue, a.IsPercent)
		consumed = append(consumed, a.ID)
	}

	rd = &models.TeamRoundData{
		ID:              uuid.New(),
		SessionID:       sessionID,
		TeamID:          teamID,
		Round:           round,
		StartCapacity:   vals.capacity,
		CurrentCapacity: vals.capacity,
		StartOrders:     vals.orders,
		CurrentOrders:   vals.orders,
		StartCost:       vals.cost,
		CurrentCost:     vals.cost,
		StartASP:        vals.asp,
		CurrentASP:      vals.asp,
	}
	return p.store.CreateRoundData(ctx, rd, consumed)
}

// applyTeamEffects runs one effect list against a team's round row. Returns
// false when the trigger mark already existed and nothing was written.
func (p *Processor) applyTeamEffects(ctx context.Context, sessionID, teamID uuid.UUID, round int, trigger Trigger, ref string, effects []content.Effect) (bool, error) {
	rd, err := p.ensureRoundData(ctx, sessionID, teamID, round)
	if err != nil {
		return false, err
	}
	if rd.Finalized {
		logrus.Warnf("kpi: skipping %s for team %s, round %d already finalized", trigger, teamID, round)
		return false, nil
	}

	vals := kpiValues{capacity: rd.CurrentCapacity, orders: rd.CurrentOrders, cost: rd.CurrentCost, asp: rd.CurrentASP}
	var adjustments []models.PermanentAdjustment
	for _, e := range effects {
		switch e.Timing {
		case content.TimingImmediate:
			vals.apply(e.KPI, e.ChangeValue, e.IsPercent)
		case content.TimingCarryForward:
			for _, target := range e.AppliesToRounds {
				adjustments = append(adjustments, models.PermanentAdjustment{
					SessionID:     sessionID,
					TeamID:        teamID,
					Metric:        string(e.KPI),
					ChangeValue:   e.ChangeValue,
					IsPercent:     e.IsPercent,
					TargetRound:   target,
					SourcePhaseID: ref,
				})
			}
		}
	}

	return p.store.ApplyEffects(ctx, store.EffectApplication{
		SessionID:   sessionID,
		TeamID:      teamID,
		Trigger:     string(trigger),
		Ref:         ref,
		RowID:       rd.ID,
		Capacity:    vals.capacity,
		Orders:      vals.orders,
		Cost:        vals.cost,
		ASP:         vals.asp,
		Adjustments: adjustments,
	})
}

// kpiValues is a working copy of the four tracked metrics.
type kpiValues struct {
	capacity, orders, cost, asp int
}

// apply adds a change to one metric. Percentage deltas are computed against
// the metric's present value and rounded half away from zero.
func (v *kpiValues) apply(m content.Metric, change float64, percent bool) {
	cur := v.get(m)
	delta := change
	if percent {
		delta = float64(cur) * change / 100
	}
	v.set(m, cur+int(math.Round(delta)))
}

func (v *kpiValues) get(m content.Metric) int {
	switch m {
	case content.MetricCapacity:
		return v.capacity
	case content.MetricOrders:
		return v.orders
	case content.MetricCost:
		return v.cost
	case content.MetricASP:
		return v.asp
	}
	return 0
}

func (v *kpiValues) set(m content.Metric, val int) {
	switch m {
	case content.MetricCapacity:
		v.capacity = val
	case content.MetricOrders:
		v.orders = val
	case content.MetricCost:
		v.cost = val
	case content.MetricASP:
		v.asp = val
	}
}
