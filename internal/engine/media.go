package engine

import (
	"context"

	"github.com/boardroomhq/boardroom/internal/content"
)

// ReportMediaDuration records the display's measured duration for a slide's
// media. The measured value wins over the pack's authored one from then on.
func (e *Engine) ReportMediaDuration(ctx context.Context, slideID string, seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	if seconds <= 0 {
		return Validationf("duration must be positive")
	}
	sl, ok := e.pack.SlideByID(slideID)
	if !ok || sl.Media == nil {
		return Validationf("slide %q carries no media", slideID)
	}
	e.reportedDurations[slideID] = seconds

	cur := e.currentSlide()
	if cur != nil && cur.ID == slideID && cur.Kind == content.SlideCountdown {
		// The live deadline derives from this duration.
		e.scheduleCountdownLocked()
		e.broadcastLocked()
	}
	return nil
}

// HandleMediaPosition ingests the display's playback clock. Reports for a
// slide that is no longer current are dropped.
func (e *Engine) HandleMediaPosition(slideID string, positionSec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended || positionSec < 0 {
		return
	}
	cur := e.currentSlide()
	if cur == nil || cur.ID != slideID {
		return
	}
	e.videoClock = positionSec
	if cur.Kind == content.SlideCountdown && cur.TimerSec == 0 && cur.Media != nil && e.session.Playing {
		e.scheduleCountdownLocked()
	}
}

// HandleMediaEnded reacts to the display finishing the current slide's media:
// auto-advance slides advance, countdown slides close their window, anything
// else just stops playback.
func (e *Engine) HandleMediaEnded(ctx context.Context, slideID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return
	}
	cur := e.currentSlide()
	if cur == nil || cur.ID != slideID || e.alert != nil {
		return
	}
	switch {
	case cur.Kind == content.SlideCountdown:
		e.expireCountdownLocked(ctx)
	case cur.AutoAdvance:
		e.session.Playing = false
		e.advanceLocked(ctx)
	default:
		e.session.Playing = false
		e.persistLocked(ctx)
		e.broadcastLocked()
	}
}
