package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

// Snapshot is the total state a consumer renders from. It is never a delta:
// last write wins, and a dropped message heals on the next state change.
type Snapshot struct {
	SessionID      uuid.UUID         `json:"session_id"`
	PhaseID        string            `json:"phase_id"`
	PhaseKind      content.PhaseKind `json:"phase_kind"`
	Round          int               `json:"round"`
	SlideID        string            `json:"slide_id"`
	SlideIndex     int               `json:"slide_index"`
	SlideKind      content.SlideKind `json:"slide_kind"`
	Media          *content.MediaRef `json:"media,omitempty"`
	IsPlaying      bool              `json:"is_playing"`
	VideoClockSec  float64           `json:"video_clock_sec"`
	DecisionActive bool              `json:"decision_active"`
	DataKey        string            `json:"data_key,omitempty"`

	// DecisionClosesAt is the absolute close of the decision window, present
	// only while a countdown applies.
	DecisionClosesAt *time.Time `json:"decision_closes_at,omitempty"`

	SubmittedCount int  `json:"submitted_count"`
	TotalTeams     int  `json:"total_teams"`
	Completed      bool `json:"completed"`
	AlertActive    bool `json:"alert_active"`

	// Alert and Notes ride only on the host's copy.
	Alert *content.AlertDef `json:"alert,omitempty"`
	Notes string            `json:"notes,omitempty"`
}

// Snapshot builds the state payload for one consumer role.
func (e *Engine) Snapshot(role models.Role) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(role)
}

func (e *Engine) snapshotLocked(role models.Role) Snapshot {
	snap := Snapshot{
		SessionID:      e.session.ID,
		PhaseID:        e.session.PhaseID,
		SlideIndex:     e.session.SlideIndex,
		IsPlaying:      e.session.Playing,
		VideoClockSec:  e.videoClock,
		DecisionActive: e.decisionActive(),
		SubmittedCount: e.submittedCount,
		TotalTeams:     len(e.teams),
		Completed:      e.session.Completed,
		AlertActive:    e.alert != nil,
	}
	if ph := e.currentPhase(); ph != nil {
		snap.PhaseKind = ph.Kind
		snap.Round = ph.Round
		snap.DataKey = ph.DataKey
	}
	if sl := e.currentSlide(); sl != nil {
		snap.SlideID = sl.ID
		snap.SlideKind = sl.Kind
		if sl.Media != nil {
			media := *sl.Media
			if rep, ok := e.reportedDurations[sl.ID]; ok {
				media.DurationSec = rep
			}
			snap.Media = &media
		}
	}
	if t, ok := e.countdownDeadline(); ok {
		snap.DecisionClosesAt = &t
	}
	if role == models.RoleHost {
		if e.alert != nil {
			a := *e.alert
			snap.Alert = &a
		}
		if sl := e.currentSlide(); sl != nil {
			snap.Notes = e.session.Notes[sl.ID]
		}
	}
	return snap
}

// TeamOption is one selectable option as a team device renders it.
type TeamOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Cost  int    `json:"cost,omitempty"`
}

// TeamView is the read-only projection a team device renders: the active
// phase, the options open to this team and its own submission state.
type TeamView struct {
	SessionID        uuid.UUID         `json:"session_id"`
	TeamID           uuid.UUID         `json:"team_id"`
	PhaseID          string            `json:"phase_id"`
	PhaseKind        content.PhaseKind `json:"phase_kind"`
	Round            int               `json:"round"`
	DecisionActive   bool              `json:"decision_active"`
	DecisionClosesAt *time.Time        `json:"decision_closes_at,omitempty"`
	Budget           int               `json:"budget,omitempty"`
	MaxSelections    int               `json:"max_selections,omitempty"`
	Options          []TeamOption      `json:"options,omitempty"`
	Submitted        bool              `json:"submitted"`
	Selection        []string          `json:"selection,omitempty"`
	AutoSubmitted    bool              `json:"auto_submitted,omitempty"`
	Completed        bool              `json:"completed"`
}

// TeamView builds the projection for one team.
func (e *Engine) TeamView(ctx context.Context, teamID uuid.UUID) (*TeamView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.teamByID(teamID) == nil {
		return nil, fmt.Errorf("%w: team %s", store.ErrNotFound, teamID)
	}
	ph := e.currentPhase()
	if ph == nil {
		return nil, fmt.Errorf("%w: phase %q", store.ErrNotFound, e.session.PhaseID)
	}
	view := &TeamView{
		SessionID:      e.session.ID,
		TeamID:         teamID,
		PhaseID:        ph.ID,
		PhaseKind:      ph.Kind,
		Round:          ph.Round,
		DecisionActive: e.windowOpen(),
		Budget:         ph.Budget,
		MaxSelections:  ph.MaxSelections,
		Completed:      e.session.Completed,
	}
	if t, ok := e.countdownDeadline(); ok {
		view.DecisionClosesAt = &t
	}
	view.Options = e.optionsForTeam(ctx, ph, teamID)

	dec, err := e.store.GetDecision(ctx, e.session.ID, teamID, ph.ID)
	switch {
	case err == nil:
		view.Submitted = true
		view.Selection = dec.Selection
		view.AutoSubmitted = dec.Auto
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}
	return view, nil
}

// optionsForTeam resolves the option list a team may pick from. Double-down
// phases only offer what the team actually bought this round. Assumes the
// lock is held.
func (e *Engine) optionsForTeam(ctx context.Context, ph *content.Phase, teamID uuid.UUID) []TeamOption {
	switch ph.Kind {
	case content.PhaseChoice:
		opts := e.pack.ChallengeOptions[ph.DataKey]
		out := make([]TeamOption, 0, len(opts))
		for _, o := range opts {
			out = append(out, TeamOption{ID: o.ID, Label: o.Label})
		}
		return out

	case content.PhaseInvestment:
		opts := e.pack.InvestmentOptions[ph.DataKey]
		out := make([]TeamOption, 0, len(opts))
		for _, o := range opts {
			out = append(out, TeamOption{ID: o.ID, Label: o.Label, Cost: o.Cost})
		}
		return out

	case content.PhaseDoubleDown:
		inv, ok := e.pack.InvestmentPhaseForRound(ph.Round)
		if !ok {
			return nil
		}
		prior, err := e.store.GetDecision(ctx, e.session.ID, teamID, inv.ID)
		if err != nil {
			return nil
		}
		out := make([]TeamOption, 0, len(prior.Selection))
		for _, id := range prior.Selection {
			if o, ok := e.pack.InvestmentOption(inv.DataKey, id); ok {
				out = append(out, TeamOption{ID: o.ID, Label: o.Label, Cost: o.Cost})
			}
		}
		return out
	}
	return nil
}
