// Package engine owns the per-session orchestrator: the phase/slide state
// machine, the decision submission window, the countdown timer and the
// snapshots every consumer renders from.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/audit"
	"github.com/boardroomhq/boardroom/internal/broadcast"
	"github.com/boardroomhq/boardroom/internal/cache"
	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/kpi"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

// Store is the slice of the datastore the orchestrator needs. *store.PG
// implements it.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	SaveSessionPosition(ctx context.Context, sess *models.Session) error
	SaveSessionNotes(ctx context.Context, id uuid.UUID, notes map[string]string) error
	ListTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error)
	InsertDecision(ctx context.Context, d *models.TeamDecision) error
	GetDecision(ctx context.Context, sessionID, teamID uuid.UUID, phaseID string) (*models.TeamDecision, error)
	ListPhaseDecisions(ctx context.Context, sessionID uuid.UUID, phaseID string) ([]models.TeamDecision, error)
	CountPhaseDecisions(ctx context.Context, sessionID uuid.UUID, phaseID string) (int, error)
	DeleteDecision(ctx context.Context, sessionID, teamID uuid.UUID, phaseID string) error
}

// EffectProcessor applies the KPI trigger for a phase being left.
// *kpi.Processor implements it.
type EffectProcessor interface {
	ApplyPhaseExit(ctx context.Context, sessionID uuid.UUID, ph *content.Phase) error
}

// Broadcaster fans engine output out to the session's consumers.
// *broadcast.Hub implements it.
type Broadcaster interface {
	SendToRole(role models.Role, msg broadcast.Message)
	SendToTeam(teamID uuid.UUID, msg broadcast.Message)
	Shutdown(msg broadcast.Message)
}

// DecisionFeed carries submission change events between request paths and
// server instances. *cache.DecisionNotifier implements it.
type DecisionFeed interface {
	Publish(ctx context.Context, ev cache.DecisionEvent) error
	Subscribe(ctx context.Context, sessionID uuid.UUID) <-chan cache.DecisionEvent
}

// Deps bundles everything an Engine needs. Feed, Audit and OnEnd may be nil.
type Deps struct {
	Store     Store
	Pack      *content.Pack
	Processor EffectProcessor
	Hub       Broadcaster
	Feed      DecisionFeed
	Audit     *audit.Publisher
	Clock     clockwork.Clock
	OnEnd     func(sessionID uuid.UUID)
}

// Engine drives one live session. All exported methods lock internally;
// unexported helpers assume the lock is held. The in-memory state stays
// authoritative even when a persistence write fails, so the host is never
// blocked by a flaky store.
type Engine struct {
	mu sync.Mutex

	session *models.Session
	pack    *content.Pack

	store     Store
	processor EffectProcessor
	hub       Broadcaster
	feed      DecisionFeed
	audit     *audit.Publisher
	clock     clockwork.Clock
	onEnd     func(uuid.UUID)

	teams []models.Team

	alert          *content.AlertDef
	videoClock     float64
	submittedCount int

	// reportedDurations overrides the pack's authored media durations with
	// what the display measured, keyed by slide id.
	reportedDurations map[string]float64

	// timerGen invalidates scheduled countdown callbacks after navigation.
	timerGen int
	timer    clockwork.Timer

	ended bool
}

// New builds the engine for one session, resuming at the persisted position
// with playback paused. A countdown already past its deadline fires
// immediately, so a service restart still closes expired windows.
func New(ctx context.Context, sess *models.Session, deps Deps) (*Engine, error) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	e := &Engine{
		session:           sess,
		pack:              deps.Pack,
		store:             deps.Store,
		processor:         deps.Processor,
		hub:               deps.Hub,
		feed:              deps.Feed,
		audit:             deps.Audit,
		clock:             deps.Clock,
		onEnd:             deps.OnEnd,
		reportedDurations: make(map[string]float64),
	}
	if sess.Notes == nil {
		sess.Notes = make(map[string]string)
	}
	if sess.PhaseActivations == nil {
		sess.PhaseActivations = make(map[string]time.Time)
	}

	if sess.PhaseID == "" {
		first := deps.Pack.FirstPhase()
		if first == nil {
			return nil, fmt.Errorf("content pack %q has no phases", deps.Pack.Name)
		}
		sess.PhaseID = first.ID
		sess.SlideIndex = 0
	} else if _, ok := deps.Pack.PhaseByID(sess.PhaseID); !ok {
		logrus.Warnf("session %s resumes at unknown phase %q, falling back to the first phase", sess.ID, sess.PhaseID)
		sess.PhaseID = deps.Pack.FirstPhase().ID
		sess.SlideIndex = 0
	}
	if _, ok := deps.Pack.SlideAt(sess.PhaseID, sess.SlideIndex); !ok {
		sess.SlideIndex = 0
	}
	sess.Playing = false

	teams, err := deps.Store.ListTeams(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load teams for session %s: %w", sess.ID, err)
	}
	e.teams = teams

	count, err := deps.Store.CountPhaseDecisions(ctx, sess.ID, sess.PhaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions for session %s: %w", sess.ID, err)
	}
	e.submittedCount = count

	e.mu.Lock()
	e.scheduleCountdownLocked()
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"phase_id":   sess.PhaseID,
		"slide":      sess.SlideIndex,
		"teams":      len(teams),
	}).Info("session engine ready")
	return e, nil
}

// SessionID identifies the session this engine drives.
func (e *Engine) SessionID() uuid.UUID {
	return e.session.ID
}

// Teams returns a copy of the session's team roster.
func (e *Engine) Teams() []models.Team {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Team, len(e.teams))
	copy(out, e.teams)
	return out
}

// currentPhase assumes the lock is held.
func (e *Engine) currentPhase() *content.Phase {
	ph, _ := e.pack.PhaseByID(e.session.PhaseID)
	return ph
}

// currentSlide assumes the lock is held.
func (e *Engine) currentSlide() *content.Slide {
	sl, _ := e.pack.SlideAt(e.session.PhaseID, e.session.SlideIndex)
	return sl
}

// decisionActive reports whether the current slide accepts team input: the
// phase must be interactive and the slide a decision-input kind. Assumes the
// lock is held.
func (e *Engine) decisionActive() bool {
	ph, sl := e.currentPhase(), e.currentSlide()
	return ph != nil && sl != nil && ph.Interactive && sl.IsDecisionInput()
}

// windowOpen is decisionActive minus frozen states: a raised alert or a
// completed session closes the window even though the slide itself still
// accepts input. Assumes the lock is held.
func (e *Engine) windowOpen() bool {
	return e.decisionActive() && e.alert == nil && !e.session.Completed && !e.ended
}

func (e *Engine) teamByID(id uuid.UUID) *models.Team {
	for i := range e.teams {
		if e.teams[i].ID == id {
			return &e.teams[i]
		}
	}
	return nil
}

// persistLocked writes the session position. A failed write surfaces as a
// host banner and the in-memory state stays authoritative; the next
// transition retries.
func (e *Engine) persistLocked(ctx context.Context) {
	if err := e.store.SaveSessionPosition(ctx, e.session); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": e.session.ID,
			"phase_id":   e.session.PhaseID,
		}).Warnf("failed to persist session position: %v", err)
		if e.hub != nil {
			e.hub.SendToRole(models.RoleHost, broadcast.NewError("STORE_UNAVAILABLE",
				"Position could not be saved. It will retry on the next transition."))
		}
	}
}

// broadcastLocked pushes the current snapshot to every consumer. The host
// copy carries the alert payload and notes; other roles only learn that
// input is frozen.
func (e *Engine) broadcastLocked() {
	if e.hub == nil {
		return
	}
	hostMsg := broadcast.NewMessage(broadcast.TypeStateUpdate, e.snapshotLocked(models.RoleHost))
	consumerMsg := broadcast.NewMessage(broadcast.TypeStateUpdate, e.snapshotLocked(models.RoleDisplay))
	e.hub.SendToRole(models.RoleHost, hostMsg)
	e.hub.SendToRole(models.RoleDisplay, consumerMsg)
	e.hub.SendToRole(models.RoleTeam, consumerMsg)
}

func (e *Engine) sendMediaControlLocked(action string, pos float64, ack bool) {
	if e.hub == nil {
		return
	}
	e.hub.SendToRole(models.RoleDisplay, broadcast.NewMessage(broadcast.TypeMediaControl,
		broadcast.MediaControlPayload{Action: action, PositionSec: pos, Ack: ack}))
}

func (e *Engine) recordAudit(actor, action string, payload map[string]interface{}) {
	e.audit.Record(e.session.ID, actor, action, payload)
}

// notifyProcessingFailureLocked surfaces a failed KPI trigger as a host
// banner. Navigation is never blocked on it; the host retries manually once
// the store recovers.
func (e *Engine) notifyProcessingFailureLocked(phaseID string, err error) {
	logrus.WithFields(logrus.Fields{
		"session_id": e.session.ID,
		"phase_id":   phaseID,
	}).Errorf("kpi trigger failed: %v", err)
	if e.hub == nil {
		return
	}
	msg := fmt.Sprintf("KPI processing failed for phase %s.", phaseID)
	var perr *kpi.ProcessingError
	if errors.As(err, &perr) {
		msg = fmt.Sprintf("KPI processing failed for phase %s (teams: %s). Retry once the store recovers.",
			phaseID, strings.Join(perr.TeamNames(), ", "))
	}
	e.hub.SendToRole(models.RoleHost, broadcast.NewError("PROCESSING_ERROR", msg))
}

// refreshSubmissionsLocked re-queries the submission count for the current
// phase. Count queries are the one source of truth, so duplicate or dropped
// feed deliveries are harmless.
func (e *Engine) refreshSubmissionsLocked(ctx context.Context) {
	count, err := e.store.CountPhaseDecisions(ctx, e.session.ID, e.session.PhaseID)
	if err != nil {
		logrus.Warnf("failed to count submissions for session %s phase %s: %v",
			e.session.ID, e.session.PhaseID, err)
		return
	}
	e.submittedCount = count
}

// HandleDecisionChange reacts to a submission-set change reported by the
// decision feed.
func (e *Engine) HandleDecisionChange(ctx context.Context, ev cache.DecisionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended || ev.PhaseID != e.session.PhaseID {
		return
	}
	before := e.submittedCount
	e.refreshSubmissionsLocked(ctx)
	if e.allSubmittedAlertLocked() {
		e.persistLocked(ctx)
		e.broadcastLocked()
		return
	}
	if e.submittedCount != before {
		e.broadcastLocked()
	}
}

// UpdateSlideNotes stores the host's private presenter notes for one slide.
// Notes never reach the display or team consumers.
func (e *Engine) UpdateSlideNotes(ctx context.Context, slideID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	if _, ok := e.pack.SlideByID(slideID); !ok {
		return Validationf("unknown slide %q", slideID)
	}
	if text == "" {
		delete(e.session.Notes, slideID)
	} else {
		e.session.Notes[slideID] = text
	}
	if err := e.store.SaveSessionNotes(ctx, e.session.ID, e.session.Notes); err != nil {
		return fmt.Errorf("failed to save notes: %w", err)
	}
	return nil
}

// RetryPhaseEffects re-runs the KPI trigger for one phase. Applied markers
// make the re-run skip teams that already succeeded, so only the failed
// remainder is touched.
func (e *Engine) RetryPhaseEffects(ctx context.Context, phaseID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Validationf("session has ended")
	}
	ph, ok := e.pack.PhaseByID(phaseID)
	if !ok {
		return fmt.Errorf("%w: phase %q", store.ErrNotFound, phaseID)
	}
	switch ph.Kind {
	case content.PhaseChoice, content.PhasePayoff, content.PhaseKPI:
	default:
		return Validationf("phase %s has no KPI trigger to retry", phaseID)
	}
	err := e.processor.ApplyPhaseExit(ctx, e.session.ID, ph)
	e.recordAudit("host", "kpi_trigger_retried", map[string]interface{}{
		"phase_id": phaseID,
		"ok":       err == nil,
	})
	if err != nil {
		e.notifyProcessingFailureLocked(phaseID, err)
		return err
	}
	e.broadcastLocked()
	return nil
}

// EndSession persists the final position, tells every consumer the session
// is over and releases the runtime. Idempotent.
func (e *Engine) EndSession(ctx context.Context) error {
	e.mu.Lock()
	if e.ended {
		e.mu.Unlock()
		return nil
	}
	e.ended = true
	e.timerGen++
	e.stopTimerLocked()
	e.persistLocked(ctx)
	e.recordAudit("host", "session_ended", map[string]interface{}{
		"phase_id":  e.session.PhaseID,
		"completed": e.session.Completed,
	})
	id := e.session.ID
	hub := e.hub
	e.mu.Unlock()

	if hub != nil {
		hub.Shutdown(broadcast.NewMessage(broadcast.TypeSessionEnded, nil))
	}
	if e.onEnd != nil {
		e.onEnd(id)
	}
	logrus.WithFields(logrus.Fields{"session_id": id}).Info("session ended")
	return nil
}
