package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/broadcast"
	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/store"
)

// SelectPhase jumps the session to the first slide of the named phase. Any
// phase is reachable; the host may jump back to review.
func (e *Engine) SelectPhase(ctx context.Context, phaseID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	if _, ok := e.pack.PhaseByID(phaseID); !ok {
		return fmt.Errorf("%w: phase %q", store.ErrNotFound, phaseID)
	}
	e.session.PhaseID = phaseID
	e.session.SlideIndex = 0
	e.session.Playing = false
	e.enterSlideLocked(ctx)
	e.persistLocked(ctx)
	e.broadcastLocked()
	return nil
}

// NextSlide advances one slide, crossing into the next phase from a phase's
// last slide. While a blocking alert is up this is a no-op; ClearAlert is the
// only way forward.
func (e *Engine) NextSlide(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	if e.alert != nil {
		return nil
	}
	e.advanceLocked(ctx)
	return nil
}

// PreviousSlide steps backward, landing on the previous phase's last slide at
// a phase boundary. Blocked while an alert is up; KPI triggers never run
// backward.
func (e *Engine) PreviousSlide(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	if e.alert != nil {
		return nil
	}
	if e.session.SlideIndex > 0 {
		e.session.SlideIndex--
	} else {
		prev, ok := e.pack.PrevPhase(e.session.PhaseID)
		if !ok {
			return nil
		}
		e.session.PhaseID = prev.ID
		e.session.SlideIndex = prev.LastSlideIndex()
	}
	e.enterSlideLocked(ctx)
	e.persistLocked(ctx)
	e.broadcastLocked()
	return nil
}

// TogglePlay flips playback for the current slide's media. On a slide with no
// media it does nothing, and while an alert is up it acts as ClearAlert so the
// host's one control always does the obvious thing.
func (e *Engine) TogglePlay(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	if e.alert != nil {
		e.clearAlertLocked(ctx)
		return nil
	}
	sl := e.currentSlide()
	if sl == nil || sl.Media == nil {
		return nil
	}
	e.session.Playing = !e.session.Playing
	if e.session.Playing {
		e.sendMediaControlLocked(broadcast.MediaActionPlay, e.videoClock, false)
	} else {
		e.sendMediaControlLocked(broadcast.MediaActionPause, e.videoClock, false)
	}
	// A media-driven countdown pauses with its video, so the deadline moves.
	e.scheduleCountdownLocked()
	e.persistLocked(ctx)
	e.broadcastLocked()
	return nil
}

// ClearAlert acknowledges the blocking alert and performs the advance it was
// holding back. No-op when no alert is up.
func (e *Engine) ClearAlert(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	if e.alert == nil {
		return nil
	}
	e.clearAlertLocked(ctx)
	return nil
}

func (e *Engine) clearAlertLocked(ctx context.Context) {
	e.alert = nil
	e.advanceLocked(ctx)
}

// advanceLocked performs the forward step without the alert guard, so
// clearing an alert can reuse it as the pending advance.
func (e *Engine) advanceLocked(ctx context.Context) {
	ph := e.currentPhase()
	if ph == nil {
		return
	}
	if e.pack.IsTerminalSlide(e.session.PhaseID, e.session.SlideIndex) {
		e.completeLocked(ctx)
		return
	}
	if e.session.SlideIndex < ph.LastSlideIndex() {
		e.session.SlideIndex++
		e.enterSlideLocked(ctx)
		e.persistLocked(ctx)
		e.broadcastLocked()
		return
	}

	// Leaving the phase: its KPI trigger runs before the position moves.
	e.applyPhaseExitLocked(ctx, ph)
	next, ok := e.pack.NextPhase(ph.ID)
	if !ok {
		e.completeLocked(ctx)
		return
	}
	e.session.PhaseID = next.ID
	e.session.SlideIndex = 0
	e.enterSlideLocked(ctx)
	e.persistLocked(ctx)
	e.broadcastLocked()
}

// completeLocked marks the session finished at the terminal slide. The final
// phase's KPI trigger still runs so a kpi-kind finale closes its round.
func (e *Engine) completeLocked(ctx context.Context) {
	if e.session.Completed {
		return
	}
	if ph := e.currentPhase(); ph != nil {
		e.applyPhaseExitLocked(ctx, ph)
	}
	e.session.Completed = true
	e.session.Playing = false
	e.timerGen++
	e.stopTimerLocked()
	e.recordAudit("host", "session_completed", map[string]interface{}{
		"phase_id": e.session.PhaseID,
	})
	e.persistLocked(ctx)
	e.broadcastLocked()
	logrus.WithFields(logrus.Fields{"session_id": e.session.ID}).Info("session completed")
}

// applyPhaseExitLocked runs the phase's KPI trigger and surfaces failures
// without blocking the transition.
func (e *Engine) applyPhaseExitLocked(ctx context.Context, ph *content.Phase) {
	switch ph.Kind {
	case content.PhaseChoice, content.PhasePayoff, content.PhaseKPI:
	default:
		return
	}
	if e.processor == nil {
		return
	}
	err := e.processor.ApplyPhaseExit(ctx, e.session.ID, ph)
	e.recordAudit("engine", "kpi_trigger", map[string]interface{}{
		"phase_id": ph.ID,
		"kind":     string(ph.Kind),
		"ok":       err == nil,
	})
	if err != nil {
		e.notifyProcessingFailureLocked(ph.ID, err)
	}
}

// enterSlideLocked applies the slide-entry table after the position fields
// changed. The new slide's kind decides alert and playback state, the first
// decision-input slide of a phase stamps its activation, and the countdown
// timer is re-armed for the new position.
func (e *Engine) enterSlideLocked(ctx context.Context) {
	e.alert = nil
	e.videoClock = 0

	sl := e.currentSlide()
	ph := e.currentPhase()
	if sl == nil || ph == nil {
		e.session.Playing = false
		e.scheduleCountdownLocked()
		return
	}

	switch sl.Kind {
	case content.SlideStatic, content.SlideDecision:
		if sl.Alert != nil {
			e.raiseAlertLocked(sl.Alert)
		}
	case content.SlideVideo:
		if sl.Alert != nil {
			e.raiseAlertLocked(sl.Alert)
		} else if sl.AutoAdvance {
			e.session.Playing = true
			e.sendMediaControlLocked(broadcast.MediaActionSeek, 0, true)
			e.sendMediaControlLocked(broadcast.MediaActionPlay, 0, false)
		}
	case content.SlideCountdown:
		// A countdown's alert waits for zero or for every team to submit;
		// raising it on entry would block the window it announces.
		if sl.Media != nil {
			e.session.Playing = true
			e.sendMediaControlLocked(broadcast.MediaActionSeek, 0, true)
			e.sendMediaControlLocked(broadcast.MediaActionPlay, 0, false)
		}
	}

	if ph.Interactive && sl.IsDecisionInput() {
		if _, ok := e.session.PhaseActivations[ph.ID]; !ok {
			e.session.PhaseActivations[ph.ID] = e.clock.Now()
			logrus.WithFields(logrus.Fields{
				"session_id": e.session.ID,
				"phase_id":   ph.ID,
			}).Info("decision phase activated")
		}
	}

	e.refreshSubmissionsLocked(ctx)
	e.allSubmittedAlertLocked()
	e.scheduleCountdownLocked()
}

// raiseAlertLocked sets the blocking alert and forces playback to pause.
func (e *Engine) raiseAlertLocked(a *content.AlertDef) {
	e.alert = a
	if e.session.Playing {
		e.session.Playing = false
		e.sendMediaControlLocked(broadcast.MediaActionPause, e.videoClock, false)
	}
}

// allSubmittedAlertLocked raises the countdown slide's alert once every team
// has submitted instead of waiting for the clock. Reports whether it fired.
func (e *Engine) allSubmittedAlertLocked() bool {
	sl := e.currentSlide()
	if sl == nil || sl.Kind != content.SlideCountdown || sl.Alert == nil {
		return false
	}
	if e.alert != nil || !e.decisionActive() || e.session.Completed {
		return false
	}
	if len(e.teams) == 0 || e.submittedCount < len(e.teams) {
		return false
	}
	e.timerGen++
	e.stopTimerLocked()
	e.raiseAlertLocked(sl.Alert)
	logrus.WithFields(logrus.Fields{
		"session_id": e.session.ID,
		"phase_id":   e.session.PhaseID,
	}).Info("all teams submitted, closing the countdown early")
	return true
}

// countdownDeadline computes the absolute close of the decision window:
// activation stamp plus timer duration when the slide carries an explicit
// timer, otherwise now plus remaining media time. Recomputed on every
// snapshot so late joiners need no catch-up protocol. Assumes the lock is
// held.
func (e *Engine) countdownDeadline() (time.Time, bool) {
	sl := e.currentSlide()
	if sl == nil || sl.Kind != content.SlideCountdown || !e.decisionActive() {
		return time.Time{}, false
	}
	if sl.TimerSec > 0 {
		activated, ok := e.session.PhaseActivations[e.session.PhaseID]
		if !ok {
			return time.Time{}, false
		}
		return activated.Add(time.Duration(sl.TimerSec) * time.Second), true
	}
	if sl.Media != nil {
		dur := sl.Media.DurationSec
		if rep, ok := e.reportedDurations[sl.ID]; ok {
			dur = rep
		}
		remaining := dur - e.videoClock
		if remaining < 0 {
			remaining = 0
		}
		return e.clock.Now().Add(time.Duration(remaining * float64(time.Second))), true
	}
	return time.Time{}, false
}
