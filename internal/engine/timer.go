package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/broadcast"
	"github.com/boardroomhq/boardroom/internal/cache"
	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

const expiryTimeout = 10 * time.Second

// scheduleCountdownLocked arms the auto-submission timer for the current
// slide, invalidating whatever was armed before. Timer-driven countdowns run
// from the phase activation stamp; media-driven countdowns run with the video
// and stay unarmed while it is paused.
func (e *Engine) scheduleCountdownLocked() {
	e.timerGen++
	e.stopTimerLocked()

	sl := e.currentSlide()
	if sl == nil || sl.Kind != content.SlideCountdown {
		return
	}
	if !e.decisionActive() || e.alert != nil || e.session.Completed || e.ended {
		return
	}
	if sl.TimerSec == 0 && sl.Media != nil && !e.session.Playing {
		return
	}
	deadline, ok := e.countdownDeadline()
	if !ok {
		return
	}
	d := deadline.Sub(e.clock.Now())
	if d < 0 {
		d = 0
	}
	gen := e.timerGen
	e.timer = e.clock.AfterFunc(d, func() { e.countdownExpired(gen) })
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// countdownExpired is the timer callback. gen guards against stale fires
// after the host navigated away and a different timer (or none) was armed.
func (e *Engine) countdownExpired(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.timerGen || e.ended {
		return
	}
	if !e.decisionActive() || e.alert != nil {
		return
	}
	e.expireCountdownLocked(ctx)
}

// expireCountdownLocked closes the decision window: defaults are submitted
// for teams that never answered, then the slide's alert goes up for the host.
// Media end on a countdown slide funnels here too.
func (e *Engine) expireCountdownLocked(ctx context.Context) {
	sl := e.currentSlide()
	ph := e.currentPhase()
	if sl == nil || ph == nil || sl.Kind != content.SlideCountdown {
		return
	}
	e.timerGen++
	e.stopTimerLocked()
	if e.session.Playing {
		e.session.Playing = false
		e.sendMediaControlLocked(broadcast.MediaActionPause, e.videoClock, false)
	}
	logrus.WithFields(logrus.Fields{
		"session_id": e.session.ID,
		"phase_id":   ph.ID,
	}).Info("decision countdown expired")

	e.autoSubmitDefaultsLocked(ctx, ph)

	if sl.Alert != nil {
		e.raiseAlertLocked(sl.Alert)
	}
	e.persistLocked(ctx)
	e.broadcastLocked()
}

// autoSubmitDefaultsLocked writes the phase default for every team without a
// submission. A race with a voluntary submission lands on the store's
// uniqueness rule: exactly one of the two rows survives.
func (e *Engine) autoSubmitDefaultsLocked(ctx context.Context, ph *content.Phase) {
	if ph.Kind != content.PhaseChoice {
		return
	}
	opt, ok := e.pack.DefaultChallengeOption(ph.DataKey)
	if !ok {
		logrus.Warnf("phase %s has no challenge options to default to", ph.ID)
		return
	}

	decided := make(map[uuid.UUID]bool)
	rows, err := e.store.ListPhaseDecisions(ctx, e.session.ID, ph.ID)
	if err != nil {
		// Insert for everyone; duplicates bounce off the unique index.
		logrus.Warnf("failed to list submissions before auto-submit on phase %s: %v", ph.ID, err)
	}
	for _, d := range rows {
		decided[d.TeamID] = true
	}

	for _, team := range e.teams {
		if decided[team.ID] {
			continue
		}
		dec := &models.TeamDecision{
			ID:          uuid.New(),
			SessionID:   e.session.ID,
			TeamID:      team.ID,
			PhaseID:     ph.ID,
			Kind:        models.DecisionChoice,
			Selection:   []string{opt.ID},
			Auto:        true,
			SubmittedAt: e.clock.Now(),
		}
		if err := e.store.InsertDecision(ctx, dec); err != nil {
			if errors.Is(err, store.ErrDuplicateSubmission) {
				continue // the team beat the clock
			}
			logrus.Errorf("failed to auto-submit for team %s on phase %s: %v", team.ID, ph.ID, err)
			continue
		}
		e.recordAudit("timer", "decision_auto_submitted", map[string]interface{}{
			"team_id":  team.ID.String(),
			"phase_id": ph.ID,
			"option":   opt.ID,
		})
		e.publishDecisionEvent(team.ID, ph.ID, false)
		if e.hub != nil {
			e.hub.SendToTeam(team.ID, broadcast.NewMessage(broadcast.TypeDecisionReceived,
				broadcast.DecisionReceivedPayload{PhaseID: ph.ID, Accepted: true, Code: "AUTO_SUBMITTED"}))
		}
	}
	e.refreshSubmissionsLocked(ctx)
}

// publishDecisionEvent pushes a change event to the decision feed without
// holding up the caller; consumers re-query counts, so a lost event only
// delays a badge update.
func (e *Engine) publishDecisionEvent(teamID uuid.UUID, phaseID string, reset bool) {
	if e.feed == nil {
		return
	}
	ev := cache.DecisionEvent{
		SessionID: e.session.ID,
		TeamID:    teamID,
		PhaseID:   phaseID,
		Reset:     reset,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.feed.Publish(ctx, ev); err != nil {
			logrus.Warnf("failed to publish decision event for session %s: %v", ev.SessionID, err)
		}
	}()
}
