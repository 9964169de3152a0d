package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardroomhq/boardroom/internal/auth"
	"github.com/boardroomhq/boardroom/internal/broadcast"
	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/engine"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

const testPasscode = "KWX2PM7R"

// consolePack is a small script: a briefing with one video, one challenge
// round, a finale.
func consolePack() *content.Pack {
	return &content.Pack{
		Name:         "console-demo",
		StartingKPIs: content.KPISet{Capacity: 100, Orders: 80, Cost: 60, ASP: 1200},
		Phases: []content.Phase{
			{
				ID: "brief", Round: 0, Kind: content.PhaseBriefing,
				Slides: []content.Slide{
					{ID: "brief-1", Kind: content.SlideStatic},
					{ID: "brief-vid", Kind: content.SlideVideo, Media: &content.MediaRef{Name: "open", DurationSec: 30}},
				},
			},
			{
				ID: "cho1", Round: 1, Kind: content.PhaseChoice, Interactive: true,
				DataKey: "r1_challenge",
				Slides: []content.Slide{
					{ID: "cho1-input", Kind: content.SlideDecision},
				},
			},
			{
				ID: "finale", Round: 1, Kind: content.PhaseFinale,
				Slides: []content.Slide{
					{ID: "fin-1", Kind: content.SlideStatic},
				},
			},
		},
		ChallengeOptions: map[string][]content.ChallengeOption{
			"r1_challenge": {
				{ID: "push", Label: "Push through"},
				{ID: "hold", Label: "Hold steady", Default: true},
			},
		},
		Consequences: map[string]map[string][]content.Effect{
			"r1_challenge": {
				"push": {{KPI: content.MetricOrders, ChangeValue: 5, Timing: content.TimingImmediate}},
				"hold": {{KPI: content.MetricCost, ChangeValue: -2, Timing: content.TimingImmediate}},
			},
		},
	}
}

func dkey(sessionID, teamID uuid.UUID, phaseID string) string {
	return fmt.Sprintf("%s|%s|%s", sessionID, teamID, phaseID)
}

// memStore backs both the engine and the HTTP layer in these tests.
type memStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*models.Session
	teams     []models.Team
	decisions map[string]models.TeamDecision
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[uuid.UUID]*models.Session),
		decisions: make(map[string]models.TeamDecision),
	}
}

func (m *memStore) addSession(sess *models.Session, teams ...models.Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	m.teams = append(m.teams, teams...)
}

func (m *memStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, id)
	}
	cp := *sess
	cp.Notes = make(map[string]string, len(sess.Notes))
	for k, v := range sess.Notes {
		cp.Notes[k] = v
	}
	cp.PhaseActivations = make(map[string]time.Time, len(sess.PhaseActivations))
	for k, v := range sess.PhaseActivations {
		cp.PhaseActivations[k] = v
	}
	return &cp, nil
}

func (m *memStore) SaveSessionPosition(ctx context.Context, sess *models.Session) error {
	return nil
}

func (m *memStore) SaveSessionNotes(ctx context.Context, id uuid.UUID, notes map[string]string) error {
	return nil
}

func (m *memStore) ListTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Team, 0, len(m.teams))
	for _, tm := range m.teams {
		if tm.SessionID == sessionID {
			out = append(out, tm)
		}
	}
	return out, nil
}

func (m *memStore) GetTeamByName(ctx context.Context, sessionID uuid.UUID, name string) (*models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tm := range m.teams {
		if tm.SessionID == sessionID && tm.Name == name {
			cp := tm
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: team %q", store.ErrNotFound, name)
}

func (m *memStore) InsertDecision(ctx context.Context, d *models.TeamDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dkey(d.SessionID, d.TeamID, d.PhaseID)
	if _, exists := m.decisions[k]; exists {
		return fmt.Errorf("insert decision: %w", store.ErrDuplicateSubmission)
	}
	cp := *d
	cp.Selection = append([]string(nil), d.Selection...)
	m.decisions[k] = cp
	return nil
}

func (m *memStore) GetDecision(ctx context.Context, sessionID, teamID uuid.UUID, phaseID string) (*models.TeamDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[dkey(sessionID, teamID, phaseID)]
	if !ok {
		return nil, fmt.Errorf("%w: decision", store.ErrNotFound)
	}
	cp := d
	return &cp, nil
}

func (m *memStore) ListPhaseDecisions(ctx context.Context, sessionID uuid.UUID, phaseID string) ([]models.TeamDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TeamDecision
	for _, d := range m.decisions {
		if d.SessionID == sessionID && d.PhaseID == phaseID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) CountPhaseDecisions(ctx context.Context, sessionID uuid.UUID, phaseID string) (int, error) {
	list, _ := m.ListPhaseDecisions(ctx, sessionID, phaseID)
	return len(list), nil
}

func (m *memStore) DeleteDecision(ctx context.Context, sessionID, teamID uuid.UUID, phaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dkey(sessionID, teamID, phaseID)
	if _, ok := m.decisions[k]; !ok {
		return fmt.Errorf("%w: decision", store.ErrNotFound)
	}
	delete(m.decisions, k)
	return nil
}

type nopProcessor struct{}

func (nopProcessor) ApplyPhaseExit(ctx context.Context, sessionID uuid.UUID, ph *content.Phase) error {
	return nil
}

type webRig struct {
	t       *testing.T
	ts      *httptest.Server
	st      *memStore
	manager *engine.Manager
	sessID  uuid.UUID
	teams   []models.Team
}

func newWebRig(t *testing.T) *webRig {
	require.NoError(t, auth.Init(time.Hour))

	st := newMemStore()
	sessID := uuid.New()
	hash, err := auth.HashPasscode(testPasscode)
	require.NoError(t, err)
	teams := []models.Team{
		{ID: uuid.New(), SessionID: sessID, Name: "Team 1", PasscodeHash: hash, DisplayOrder: 1},
		{ID: uuid.New(), SessionID: sessID, Name: "Team 2", DisplayOrder: 2},
	}
	sess := &models.Session{
		ID:               sessID,
		Name:             "Launch Day",
		ContentPack:      "console-demo",
		PhaseID:          "brief",
		Notes:            map[string]string{},
		PhaseActivations: map[string]time.Time{},
	}
	st.addSession(sess, teams...)

	manager := engine.NewManager(engine.ManagerDeps{
		Store:     st,
		Pack:      consolePack(),
		Processor: nopProcessor{},
		Clock:     clockwork.NewFakeClock(),
	})

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	ts := httptest.NewServer(NewServer(st, manager, logger).Routes())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	return &webRig{t: t, ts: ts, st: st, manager: manager, sessID: sessID, teams: teams}
}

func (r *webRig) token(role models.Role, subject string) string {
	tok, err := auth.CreateToken(subject, r.sessID, role)
	require.NoError(r.t, err)
	return tok
}

func (r *webRig) get(path, token string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, r.ts.URL+path, nil)
	require.NoError(r.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(r.t, err)
	return resp
}

func (r *webRig) postLogin(body interface{}) *http.Response {
	data, err := json.Marshal(body)
	require.NoError(r.t, err)
	resp, err := http.Post(r.ts.URL+"/api/login", "application/json", bytes.NewReader(data))
	require.NoError(r.t, err)
	return resp
}

func (r *webRig) dial(path, token string) *websocket.Conn {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(r.ts.URL, "http") + path + "?token=" + token
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{"console"}})
	require.NoError(r.t, err)
	r.t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func sendWS(t *testing.T, c *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

func readWS(t *testing.T, c *websocket.Conn) broadcast.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var msg broadcast.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil drains frames until one of the wanted type arrives. Snapshots
// and receipts interleave without a guaranteed order, so tests wait for the
// type they care about.
func readUntil(t *testing.T, c *websocket.Conn, msgType string) broadcast.Message {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg := readWS(t, c)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s frame arrived", msgType)
	return broadcast.Message{}
}

func snapshotOf(t *testing.T, msg broadcast.Message) engine.Snapshot {
	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	return snap
}

// waitForPhase reads state updates until the named phase is current.
func waitForPhase(t *testing.T, c *websocket.Conn, phaseID string) engine.Snapshot {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg := readUntil(t, c, broadcast.TypeStateUpdate)
		snap := snapshotOf(t, msg)
		if snap.PhaseID == phaseID {
			return snap
		}
	}
	t.Fatalf("phase %s never became current", phaseID)
	return engine.Snapshot{}
}

func TestHealthz(t *testing.T) {
	rig := newWebRig(t)

	resp := rig.get("/healthz", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestTeamLogin(t *testing.T) {
	rig := newWebRig(t)

	t.Run("valid credentials issue a team token", func(t *testing.T) {
		resp := rig.postLogin(loginRequest{
			SessionID: rig.sessID.String(),
			TeamName:  "Team 1",
			Passcode:  testPasscode,
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body loginResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, rig.teams[0].ID, body.TeamID)
		assert.Equal(t, "Team 1", body.TeamName)

		claims, err := auth.VerifyToken(body.Token)
		require.NoError(t, err)
		assert.Equal(t, models.RoleTeam, claims.Role)
		assert.Equal(t, rig.sessID, claims.SessionID)
		assert.Equal(t, rig.teams[0].ID.String(), claims.Subject)

		var cookie string
		for _, c := range resp.Cookies() {
			if c.Name == "auth_token" {
				cookie = c.Value
			}
		}
		assert.Equal(t, body.Token, cookie)
	})

	t.Run("wrong passcode is refused", func(t *testing.T) {
		resp := rig.postLogin(loginRequest{
			SessionID: rig.sessID.String(),
			TeamName:  "Team 1",
			Passcode:  "WRONGCODE",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown team is refused the same way", func(t *testing.T) {
		resp := rig.postLogin(loginRequest{
			SessionID: rig.sessID.String(),
			TeamName:  "Team 9",
			Passcode:  testPasscode,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown session is a 404", func(t *testing.T) {
		resp := rig.postLogin(loginRequest{
			SessionID: uuid.NewString(),
			TeamName:  "Team 1",
			Passcode:  testPasscode,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("garbage body is a 400", func(t *testing.T) {
		resp, err := http.Post(rig.ts.URL+"/api/login", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSessionStatus(t *testing.T) {
	rig := newWebRig(t)

	t.Run("requires a host token", func(t *testing.T) {
		resp := rig.get("/api/session/"+rig.sessID.String()+"/status", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = rig.get("/api/session/"+rig.sessID.String()+"/status", rig.token(models.RoleTeam, rig.teams[0].ID.String()))
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("reports position and connections", func(t *testing.T) {
		resp := rig.get("/api/session/"+rig.sessID.String()+"/status", rig.token(models.RoleHost, "ops"))
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var status sessionStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.Equal(t, rig.sessID, status.SessionID)
		assert.Equal(t, "brief", status.PhaseID)
		assert.Equal(t, 2, status.TotalTeams)
		assert.False(t, status.DisplayConnected)
		assert.Zero(t, status.TeamConnections)
	})

	t.Run("token for another session is refused", func(t *testing.T) {
		otherTok, err := auth.CreateToken("ops", uuid.New(), models.RoleHost)
		require.NoError(t, err)
		resp := rig.get("/api/session/"+rig.sessID.String()+"/status", otherTok)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestTeamViewEndpoint(t *testing.T) {
	rig := newWebRig(t)
	ctx := context.Background()
	teamTok := rig.token(models.RoleTeam, rig.teams[0].ID.String())

	t.Run("closed phase has no options", func(t *testing.T) {
		resp := rig.get("/api/session/"+rig.sessID.String()+"/team/view", teamTok)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var view engine.TeamView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
		assert.Equal(t, "brief", view.PhaseID)
		assert.False(t, view.DecisionActive)
		assert.Empty(t, view.Options)
	})

	t.Run("open challenge lists its options", func(t *testing.T) {
		rt, err := rig.manager.Get(ctx, rig.sessID)
		require.NoError(t, err)
		require.NoError(t, rt.Engine.SelectPhase(ctx, "cho1"))

		resp := rig.get("/api/session/"+rig.sessID.String()+"/team/view", teamTok)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var view engine.TeamView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
		assert.Equal(t, "cho1", view.PhaseID)
		assert.True(t, view.DecisionActive)
		assert.Len(t, view.Options, 2)
		assert.False(t, view.Submitted)
	})

	t.Run("host tokens are refused", func(t *testing.T) {
		resp := rig.get("/api/session/"+rig.sessID.String()+"/team/view", rig.token(models.RoleHost, "ops"))
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestHostSocketDrivesTheSession(t *testing.T) {
	rig := newWebRig(t)
	c := rig.dial("/ws/session/"+rig.sessID.String()+"/host", rig.token(models.RoleHost, "ops"))

	snap := snapshotOf(t, readUntil(t, c, broadcast.TypeStateUpdate))
	assert.Equal(t, "brief", snap.PhaseID)
	assert.Equal(t, 0, snap.SlideIndex)

	sendWS(t, c, clientMessage{Type: broadcast.TypeConsumerReady})
	snap = snapshotOf(t, readUntil(t, c, broadcast.TypeStateUpdate))
	assert.Equal(t, "brief", snap.PhaseID)

	sendWS(t, c, clientMessage{Type: broadcast.TypeNextSlide})
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "slide advance never broadcast")
		snap = snapshotOf(t, readUntil(t, c, broadcast.TypeStateUpdate))
		if snap.SlideIndex == 1 {
			break
		}
	}
	assert.Equal(t, "brief-vid", snap.SlideID)

	sendWS(t, c, clientMessage{Type: "NONSENSE"})
	msg := readUntil(t, c, broadcast.TypeError)
	var ep broadcast.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ep))
	assert.Equal(t, "UNSUPPORTED_MESSAGE", ep.Code)

	// Team-only traffic on a host socket is refused the same way.
	sendWS(t, c, clientMessage{Type: broadcast.TypeSubmitDecision, Selection: []string{"push"}})
	msg = readUntil(t, c, broadcast.TypeError)
	require.NoError(t, json.Unmarshal(msg.Payload, &ep))
	assert.Equal(t, "UNSUPPORTED_MESSAGE", ep.Code)
}

func TestTeamSocketSubmitsDecision(t *testing.T) {
	rig := newWebRig(t)

	host := rig.dial("/ws/session/"+rig.sessID.String()+"/host", rig.token(models.RoleHost, "ops"))
	sendWS(t, host, clientMessage{Type: broadcast.TypeSelectPhase, PhaseID: "cho1"})
	waitForPhase(t, host, "cho1")

	team := rig.dial("/ws/session/"+rig.sessID.String()+"/team", rig.token(models.RoleTeam, rig.teams[0].ID.String()))
	snap := snapshotOf(t, readUntil(t, team, broadcast.TypeStateUpdate))
	require.Equal(t, "cho1", snap.PhaseID)
	require.True(t, snap.DecisionActive)

	sendWS(t, team, clientMessage{Type: broadcast.TypeSubmitDecision, Selection: []string{"push"}})
	msg := readUntil(t, team, broadcast.TypeDecisionReceived)
	var receipt broadcast.DecisionReceivedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &receipt))
	assert.True(t, receipt.Accepted)
	assert.Equal(t, "cho1", receipt.PhaseID)

	// A second submission bounces off the one-shot rule with an
	// authoritative receipt, not an error frame.
	sendWS(t, team, clientMessage{Type: broadcast.TypeSubmitDecision, Selection: []string{"hold"}})
	msg = readUntil(t, team, broadcast.TypeDecisionReceived)
	require.NoError(t, json.Unmarshal(msg.Payload, &receipt))
	assert.False(t, receipt.Accepted)
	assert.Equal(t, "DUPLICATE_SUBMISSION", receipt.Code)

	// Host-only traffic on a team socket is refused.
	sendWS(t, team, clientMessage{Type: broadcast.TypeNextSlide})
	errMsg := readUntil(t, team, broadcast.TypeError)
	var ep broadcast.ErrorPayload
	require.NoError(t, json.Unmarshal(errMsg.Payload, &ep))
	assert.Equal(t, "UNSUPPORTED_MESSAGE", ep.Code)
}

func TestTeamSocketRejectsBadSelection(t *testing.T) {
	rig := newWebRig(t)

	host := rig.dial("/ws/session/"+rig.sessID.String()+"/host", rig.token(models.RoleHost, "ops"))
	sendWS(t, host, clientMessage{Type: broadcast.TypeSelectPhase, PhaseID: "cho1"})
	waitForPhase(t, host, "cho1")

	team := rig.dial("/ws/session/"+rig.sessID.String()+"/team", rig.token(models.RoleTeam, rig.teams[0].ID.String()))
	readUntil(t, team, broadcast.TypeStateUpdate)

	sendWS(t, team, clientMessage{Type: broadcast.TypeSubmitDecision, Selection: []string{"bogus"}})
	msg := readUntil(t, team, broadcast.TypeError)
	var ep broadcast.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ep))
	assert.Equal(t, "VALIDATION", ep.Code)
}

func TestDisplaySocketMediaFlow(t *testing.T) {
	rig := newWebRig(t)
	ctx := context.Background()

	rt, err := rig.manager.Get(ctx, rig.sessID)
	require.NoError(t, err)
	require.NoError(t, rt.Engine.NextSlide(ctx)) // brief-vid

	display := rig.dial("/ws/session/"+rig.sessID.String()+"/display", rig.token(models.RoleDisplay, "main-screen"))
	snap := snapshotOf(t, readUntil(t, display, broadcast.TypeStateUpdate))
	require.Equal(t, "brief-vid", snap.SlideID)

	sendWS(t, display, clientMessage{Type: broadcast.TypeMediaDuration, SlideID: "brief-vid", DurationSec: 42})
	sendWS(t, display, clientMessage{Type: broadcast.TypeMediaPosition, SlideID: "brief-vid", PositionSec: 10})
	sendWS(t, display, clientMessage{Type: broadcast.TypeMediaEnded, SlideID: "brief-vid"})

	// The ended report lands as a fresh snapshot with playback stopped.
	snap = snapshotOf(t, readUntil(t, display, broadcast.TypeStateUpdate))
	assert.Equal(t, "brief-vid", snap.SlideID)
	assert.False(t, snap.IsPlaying)

	sendWS(t, display, clientMessage{Type: broadcast.TypeMediaDuration, SlideID: "no-such-slide", DurationSec: 42})
	msg := readUntil(t, display, broadcast.TypeError)
	var ep broadcast.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ep))
	assert.Equal(t, "VALIDATION", ep.Code)
}

func TestSocketHandshakeAuth(t *testing.T) {
	rig := newWebRig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := "ws" + strings.TrimPrefix(rig.ts.URL, "http")

	// No token.
	_, resp, err := websocket.Dial(ctx, base+"/ws/session/"+rig.sessID.String()+"/host", &websocket.DialOptions{Subprotocols: []string{"console"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	// Wrong role for the path.
	teamTok := rig.token(models.RoleTeam, rig.teams[0].ID.String())
	_, resp, err = websocket.Dial(ctx, base+"/ws/session/"+rig.sessID.String()+"/host?token="+teamTok, &websocket.DialOptions{Subprotocols: []string{"console"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	// Host token minted for a different session.
	hostTok, err := auth.CreateToken("ops", uuid.New(), models.RoleHost)
	require.NoError(t, err)
	_, resp, err = websocket.Dial(ctx, base+"/ws/session/"+rig.sessID.String()+"/host?token="+hostTok, &websocket.DialOptions{Subprotocols: []string{"console"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestEndSessionClosesConsoles(t *testing.T) {
	rig := newWebRig(t)

	host := rig.dial("/ws/session/"+rig.sessID.String()+"/host", rig.token(models.RoleHost, "ops"))
	display := rig.dial("/ws/session/"+rig.sessID.String()+"/display", rig.token(models.RoleDisplay, "main-screen"))
	readUntil(t, host, broadcast.TypeStateUpdate)
	readUntil(t, display, broadcast.TypeStateUpdate)

	sendWS(t, host, clientMessage{Type: broadcast.TypeEndSession})

	readUntil(t, display, broadcast.TypeSessionEnded)
	readUntil(t, host, broadcast.TypeSessionEnded)

	// After the farewell the server closes both sockets.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := display.Read(ctx)
		if err != nil {
			break
		}
	}
}
