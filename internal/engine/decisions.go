package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/broadcast"
	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

// SubmitDecision validates and stores a team's one-shot submission for the
// currently active phase. The store's uniqueness rule is the final authority
// on duplicates; the DECISION_RECEIVED answer to the team reflects it either
// way.
func (e *Engine) SubmitDecision(ctx context.Context, teamID uuid.UUID, selection []string) error {
	if selection == nil {
		selection = []string{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	team := e.teamByID(teamID)
	if team == nil {
		return fmt.Errorf("%w: team %s", store.ErrNotFound, teamID)
	}
	if !e.windowOpen() {
		return Validationf("decisions are closed for phase %s", e.session.PhaseID)
	}
	ph := e.currentPhase()
	kind, err := e.validateSelection(ctx, ph, teamID, selection)
	if err != nil {
		return err
	}

	dec := &models.TeamDecision{
		ID:          uuid.New(),
		SessionID:   e.session.ID,
		TeamID:      teamID,
		PhaseID:     ph.ID,
		Kind:        kind,
		Selection:   selection,
		SubmittedAt: e.clock.Now(),
	}
	if err := e.store.InsertDecision(ctx, dec); err != nil {
		if errors.Is(err, store.ErrDuplicateSubmission) && e.hub != nil {
			e.hub.SendToTeam(teamID, broadcast.NewMessage(broadcast.TypeDecisionReceived,
				broadcast.DecisionReceivedPayload{PhaseID: ph.ID, Accepted: false, Code: "DUPLICATE_SUBMISSION"}))
		}
		return err
	}

	e.recordAudit("team:"+team.Name, "decision_submitted", map[string]interface{}{
		"team_id":   teamID.String(),
		"phase_id":  ph.ID,
		"selection": selection,
	})
	if e.hub != nil {
		e.hub.SendToTeam(teamID, broadcast.NewMessage(broadcast.TypeDecisionReceived,
			broadcast.DecisionReceivedPayload{PhaseID: ph.ID, Accepted: true}))
	}
	e.publishDecisionEvent(teamID, ph.ID, false)
	e.refreshSubmissionsLocked(ctx)
	if e.allSubmittedAlertLocked() {
		e.persistLocked(ctx)
	}
	e.broadcastLocked()
	return nil
}

// validateSelection checks the payload against the phase's option tables and
// budget rules, returning the decision kind the phase records. Assumes the
// lock is held.
func (e *Engine) validateSelection(ctx context.Context, ph *content.Phase, teamID uuid.UUID, selection []string) (models.DecisionKind, error) {
	switch ph.Kind {
	case content.PhaseChoice:
		if len(selection) != 1 {
			return "", Validationf("phase %s expects exactly one option", ph.ID)
		}
		if _, ok := e.pack.ChallengeOption(ph.DataKey, selection[0]); !ok {
			return "", Validationf("unknown option %q for phase %s", selection[0], ph.ID)
		}
		return models.DecisionChoice, nil

	case content.PhaseInvestment:
		seen := make(map[string]bool, len(selection))
		total := 0
		for _, id := range selection {
			opt, ok := e.pack.InvestmentOption(ph.DataKey, id)
			if !ok {
				return "", Validationf("unknown option %q for phase %s", id, ph.ID)
			}
			if seen[id] {
				return "", Validationf("option %q selected twice", id)
			}
			seen[id] = true
			total += opt.Cost
		}
		if ph.MaxSelections > 0 && len(selection) > ph.MaxSelections {
			return "", Validationf("phase %s allows at most %d selections", ph.ID, ph.MaxSelections)
		}
		if ph.Budget > 0 && total > ph.Budget {
			return "", Validationf("selection costs %d, over the %d budget", total, ph.Budget)
		}
		return models.DecisionInvestment, nil

	case content.PhaseDoubleDown:
		inv, ok := e.pack.InvestmentPhaseForRound(ph.Round)
		if !ok {
			return "", Validationf("round %d has no investment phase to double", ph.Round)
		}
		prior, err := e.store.GetDecision(ctx, e.session.ID, teamID, inv.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", Validationf("no investment submitted for round %d", ph.Round)
			}
			return "", fmt.Errorf("failed to load the round %d investment: %w", ph.Round, err)
		}
		owned := make(map[string]bool, len(prior.Selection))
		for _, id := range prior.Selection {
			owned[id] = true
		}
		seen := make(map[string]bool, len(selection))
		for _, id := range selection {
			if !owned[id] {
				return "", Validationf("option %q is not part of the round %d investment", id, ph.Round)
			}
			if seen[id] {
				return "", Validationf("option %q selected twice", id)
			}
			seen[id] = true
		}
		if ph.MaxSelections > 0 && len(selection) > ph.MaxSelections {
			return "", Validationf("phase %s allows at most %d selections", ph.ID, ph.MaxSelections)
		}
		return models.DecisionDoubleDown, nil
	}
	return "", Validationf("phase %s does not accept submissions", ph.ID)
}

// ResetTeamDecision deletes one team's submission for one phase, reopening it
// for that team. Removing the last submission of the current phase also
// resets the activation stamp, so a re-run gets a fresh countdown.
func (e *Engine) ResetTeamDecision(ctx context.Context, teamID uuid.UUID, phaseID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	if e.teamByID(teamID) == nil {
		return fmt.Errorf("%w: team %s", store.ErrNotFound, teamID)
	}
	ph, ok := e.pack.PhaseByID(phaseID)
	if !ok {
		return fmt.Errorf("%w: phase %q", store.ErrNotFound, phaseID)
	}
	if err := e.store.DeleteDecision(ctx, e.session.ID, teamID, phaseID); err != nil {
		return err
	}
	e.recordAudit("host", "decision_reset", map[string]interface{}{
		"team_id":  teamID.String(),
		"phase_id": phaseID,
	})
	e.publishDecisionEvent(teamID, phaseID, true)

	remaining, err := e.store.CountPhaseDecisions(ctx, e.session.ID, phaseID)
	if err != nil {
		logrus.Warnf("failed to count submissions after reset on phase %s: %v", phaseID, err)
		remaining = -1
	}
	if remaining == 0 {
		delete(e.session.PhaseActivations, ph.ID)
		if ph.ID == e.session.PhaseID && e.decisionActive() {
			// The window is live right now; restart it from this moment.
			e.session.PhaseActivations[ph.ID] = e.clock.Now()
			e.scheduleCountdownLocked()
		}
		e.persistLocked(ctx)
	}
	if ph.ID == e.session.PhaseID {
		if remaining >= 0 {
			e.submittedCount = remaining
		}
		e.broadcastLocked()
	}
	return nil
}
