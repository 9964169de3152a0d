package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/audit"
	"github.com/boardroomhq/boardroom/internal/broadcast"
	"github.com/boardroomhq/boardroom/internal/content"
)

// Runtime is one live session's engine and hub pair.
type Runtime struct {
	Engine *Engine
	Hub    *broadcast.Hub

	cancel context.CancelFunc
}

// ManagerDeps configures the session manager. Feed and Audit may be nil;
// zero intervals take the defaults.
type ManagerDeps struct {
	Store          Store
	Pack           *content.Pack
	Processor      EffectProcessor
	Feed           DecisionFeed
	Audit          *audit.Publisher
	Clock          clockwork.Clock
	PingInterval   time.Duration
	LivenessWindow time.Duration
}

// Manager owns the runtime for every open session in the process, built
// lazily on first touch and reclaimed when a session ends.
type Manager struct {
	deps ManagerDeps

	mu       sync.Mutex
	runtimes map[uuid.UUID]*Runtime
}

// NewManager builds an empty manager.
func NewManager(deps ManagerDeps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.PingInterval <= 0 {
		deps.PingInterval = 15 * time.Second
	}
	if deps.LivenessWindow <= 0 {
		deps.LivenessWindow = 45 * time.Second
	}
	return &Manager{
		deps:     deps,
		runtimes: make(map[uuid.UUID]*Runtime),
	}
}

// Get returns the live runtime for a session, loading it on first touch. An
// unknown session id surfaces the store's ErrNotFound.
func (m *Manager) Get(ctx context.Context, sessionID uuid.UUID) (*Runtime, error) {
	m.mu.Lock()
	if rt, ok := m.runtimes[sessionID]; ok {
		m.mu.Unlock()
		return rt, nil
	}
	m.mu.Unlock()

	sess, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[sessionID]; ok {
		// Another request finished loading first.
		return rt, nil
	}

	hub := broadcast.NewHub(sessionID, m.deps.Clock)
	eng, err := New(ctx, sess, Deps{
		Store:     m.deps.Store,
		Pack:      m.deps.Pack,
		Processor: m.deps.Processor,
		Hub:       hub,
		Feed:      m.deps.Feed,
		Audit:     m.deps.Audit,
		Clock:     m.deps.Clock,
		OnEnd:     m.Remove,
	})
	if err != nil {
		return nil, err
	}

	rtCtx, cancel := context.WithCancel(context.Background())
	go hub.RunLiveness(rtCtx, m.deps.PingInterval, m.deps.LivenessWindow)
	if m.deps.Feed != nil {
		events := m.deps.Feed.Subscribe(rtCtx, sessionID)
		go func() {
			for ev := range events {
				eng.HandleDecisionChange(rtCtx, ev)
			}
		}()
	}

	rt := &Runtime{Engine: eng, Hub: hub, cancel: cancel}
	m.runtimes[sessionID] = rt
	return rt, nil
}

// Remove drops a session's runtime and stops its background work. Safe to
// call for sessions that were never loaded.
func (m *Manager) Remove(sessionID uuid.UUID) {
	m.mu.Lock()
	rt, ok := m.runtimes[sessionID]
	if ok {
		delete(m.runtimes, sessionID)
	}
	m.mu.Unlock()
	if ok {
		rt.cancel()
		logrus.WithFields(logrus.Fields{"session_id": sessionID}).Info("session runtime released")
	}
}

// Shutdown ends every live session; used on server shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	rts := make([]*Runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		rts = append(rts, rt)
	}
	m.mu.Unlock()

	for _, rt := range rts {
		if err := rt.Engine.EndSession(ctx); err != nil {
			logrus.Warnf("failed to end session %s: %v", rt.Engine.SessionID(), err)
		}
	}
}
