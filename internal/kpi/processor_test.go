package kpi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

// fakeStore is an in-memory Store with the same mark semantics as Postgres.
type fakeStore struct {
	teams       []models.Team
	decisions   map[string]*models.TeamDecision
	rounds      map[string]*models.TeamRoundData
	adjustments []*models.PermanentAdjustment
	marks       map[string]bool
	nextAdjID   int64

	// failApply injects a per-team error into ApplyEffects.
	failApply map[uuid.UUID]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		decisions: make(map[string]*models.TeamDecision),
		rounds:    make(map[string]*models.TeamRoundData),
		marks:     make(map[string]bool),
		failApply: make(map[uuid.UUID]error),
	}
}

func decisionKey(teamID uuid.UUID, phaseID string) string {
	return fmt.Sprintf("%s|%s", teamID, phaseID)
}

func roundKey(teamID uuid.UUID, round int) string {
	return fmt.Sprintf("%s|%d", teamID, round)
}

func markKey(teamID uuid.UUID, trigger, ref string) string {
	return fmt.Sprintf("%s|%s|%s", teamID, trigger, ref)
}

func (f *fakeStore) addDecision(teamID uuid.UUID, phaseID string, selection ...string) {
	f.decisions[decisionKey(teamID, phaseID)] = &models.TeamDecision{
		ID:        uuid.New(),
		TeamID:    teamID,
		PhaseID:   phaseID,
		Selection: selection,
	}
}

func (f *fakeStore) ListTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error) {
	return f.teams, nil
}

func (f *fakeStore) GetDecision(ctx context.Context, sessionID, teamID uuid.UUID, phaseID string) (*models.TeamDecision, error) {
	d, ok := f.decisions[decisionKey(teamID, phaseID)]
	if !ok {
		return nil, fmt.Errorf("%w: decision", store.ErrNotFound)
	}
	return d, nil
}

func (f *fakeStore) GetRoundData(ctx context.Context, sessionID, teamID uuid.UUID, round int) (*models.TeamRoundData, error) {
	rd, ok := f.rounds[roundKey(teamID, round)]
	if !ok {
		return nil, fmt.Errorf("%w: round data", store.ErrNotFound)
	}
	cp := *rd
	return &cp, nil
}

func (f *fakeStore) CreateRoundData(ctx context.Context, rd *models.TeamRoundData, consumed []int64) (*models.TeamRoundData, error) {
	key := roundKey(rd.TeamID, rd.Round)
	if existing, ok := f.rounds[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *rd
	f.rounds[key] = &cp
	for _, id := range consumed {
		for _, a := range f.adjustments {
			if a.ID == id {
				a.Applied = true
			}
		}
	}
	out := cp
	return &out, nil
}

func (f *fakeStore) PendingAdjustments(ctx context.Context, sessionID, teamID uuid.UUID, round int) ([]models.PermanentAdjustment, error) {
	var out []models.PermanentAdjustment
	for _, a := range f.adjustments {
		if a.TeamID == teamID && a.TargetRound == round && !a.Applied {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyEffects(ctx context.Context, app store.EffectApplication) (bool, error) {
	if err := f.failApply[app.TeamID]; err != nil {
		return false, err
	}
	key := markKey(app.TeamID, app.Trigger, app.Ref)
	if f.marks[key] {
		return false, nil
	}
	f.marks[key] = true

	for _, rd := range f.rounds {
		if rd.ID == app.RowID {
			rd.CurrentCapacity = app.Capacity
			rd.CurrentOrders = app.Orders
			rd.CurrentCost = app.Cost
			rd.CurrentASP = app.ASP
		}
	}
	for _, a := range app.Adjustments {
		f.nextAdjID++
		cp := a
		cp.ID = f.nextAdjID
		f.adjustments = append(f.adjustments, &cp)
	}
	return true, nil
}

func (f *fakeStore) FinalizeRound(ctx context.Context, fin store.RoundFinalization) (bool, error) {
	key := markKey(fin.TeamID, fin.Trigger, fin.Ref)
	if f.marks[key] {
		return false, nil
	}
	f.marks[key] = true

	for _, rd := range f.rounds {
		if rd.ID == fin.RowID {
			rd.Revenue = fin.Revenue
			rd.NetIncome = fin.NetIncome
			rd.NetMargin = fin.NetMargin
			rd.Finalized = true
		}
	}
	return true, nil
}

// testPack builds a two-round pack exercising every effect shape. Slides are
// irrelevant to the processor and left empty.
func testPack() *content.Pack {
	return &content.Pack{
		Name:         "test",
		StartingKPIs: content.KPISet{Capacity: 1000, Orders: 800, Cost: 400000, ASP: 550},
		Phases: []content.Phase{
			{ID: "inv1", Round: 1, Kind: content.PhaseInvestment, Interactive: true, DataKey: "inv1", Budget: 100, MaxSelections: 2},
			{ID: "cho1", Round: 1, Kind: content.PhaseChoice, Interactive: true, DataKey: "cho1"},
			{ID: "pay1", Round: 1, Kind: content.PhasePayoff, DataKey: "pay1"},
			{ID: "kpi1", Round: 1, Kind: content.PhaseKPI},
			{ID: "inv2", Round: 2, Kind: content.PhaseInvestment, Interactive: true, DataKey: "inv2", Budget: 100, MaxSelections: 1},
			{ID: "dd2", Round: 2, Kind: content.PhaseDoubleDown, Interactive: true, MaxSelections: 1},
			{ID: "pay2", Round: 2, Kind: content.PhasePayoff, DataKey: "pay2"},
			{ID: "kpi2", Round: 2, Kind: content.PhaseKPI},
		},
		InvestmentOptions: map[string][]content.InvestmentOption{
			"inv1": {{ID: "alpha", Cost: 40}, {ID: "beta", Cost: 60}},
			"inv2": {{ID: "gamma", Cost: 50}},
		},
		ChallengeOptions: map[string][]content.ChallengeOption{
			"cho1": {
				{ID: "push", Default: true},
				{ID: "hold"},
			},
		},
		Consequences: map[string]map[string][]content.Effect{
			"cho1": {
				"push": {
					{KPI: content.MetricCapacity, ChangeValue: 5, Timing: content.TimingImmediate},
					{KPI: content.MetricCapacity, ChangeValue: 10, IsPercent: true, Timing: content.TimingCarryForward, AppliesToRounds: []int{2}},
				},
				"hold": {
					{KPI: content.MetricOrders, ChangeValue: -3, IsPercent: true, Timing: content.TimingImmediate},
				},
			},
		},
		InvestmentPayoffs: map[string]map[string][]content.Effect{
			"pay1": {
				"alpha": {{KPI: content.MetricOrders, ChangeValue: 4, IsPercent: true, Timing: content.TimingImmediate}},
				"beta":  {{KPI: content.MetricCost, ChangeValue: -30000, Timing: content.TimingImmediate}},
			},
			"pay2": {
				"gamma": {{KPI: content.MetricOrders, ChangeValue: 10, IsPercent: true, Timing: content.TimingImmediate}},
			},
		},
	}
}

func setupProcessor(t *testing.T, teamCount int) (*Processor, *fakeStore, uuid.UUID, []models.Team) {
	t.Helper()
	fs := newFakeStore()
	sessionID := uuid.New()
	for i := 0; i < teamCount; i++ {
		fs.teams = append(fs.teams, models.Team{
			ID:        uuid.New(),
			SessionID: sessionID,
			Name:      fmt.Sprintf("Team %d", i+1),
		})
	}
	return NewProcessor(testPack(), fs), fs, sessionID, fs.teams
}

func phase(t *testing.T, p *Processor, id string) *content.Phase {
	t.Helper()
	ph, ok := p.pack.PhaseByID(id)
	require.True(t, ok, "phase %s missing from test pack", id)
	return ph
}

func TestChoiceResolutionUsesSubmissionOrDefault(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 2)
	ctx := context.Background()
	submitted, silent := teams[0], teams[1]

	fs.addDecision(submitted.ID, "cho1", "hold")

	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "cho1")))

	// "hold" drops orders by 3%: 800 -> 776.
	rd, err := fs.GetRoundData(ctx, sessionID, submitted.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 776, rd.CurrentOrders)
	assert.Equal(t, 1000, rd.CurrentCapacity)

	// The silent team gets the flagged default "push": capacity +5.
	rd, err = fs.GetRoundData(ctx, sessionID, silent.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1005, rd.CurrentCapacity)
	assert.Equal(t, 800, rd.CurrentOrders)
}

func TestChoiceResolutionIsIdempotent(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 1)
	ctx := context.Background()
	fs.addDecision(teams[0].ID, "cho1", "push")

	ch := phase(t, proc, "cho1")
	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, ch))
	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, ch))

	rd, err := fs.GetRoundData(ctx, sessionID, teams[0].ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1005, rd.CurrentCapacity, "re-running the trigger must not re-apply the +5")

	// The carry-forward adjustment was queued exactly once.
	pending, err := fs.PendingAdjustments(ctx, sessionID, teams[0].ID, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCarryForwardFoldsWithRounding(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 1)
	ctx := context.Background()
	team := teams[0]
	fs.addDecision(team.ID, "cho1", "push")

	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "cho1")))
	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "kpi1")))

	// Round 2 starts from round 1's closing capacity of 1005, then folds the
	// queued +10%: 100.5 rounds half away from zero to 101.
	rd, err := proc.RoundData(ctx, sessionID, team.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1106, rd.StartCapacity)
	assert.Equal(t, 1106, rd.CurrentCapacity)

	// The adjustment is consumed, not deleted: a second ensure must not fold
	// it again.
	rd2, err := proc.RoundData(ctx, sessionID, team.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1106, rd2.StartCapacity)
	pending, err := fs.PendingAdjustments(ctx, sessionID, team.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAdjustmentsFoldInInsertionOrder(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 1)
	ctx := context.Background()
	team := teams[0]

	// +10% then +100 absolute gives 1100 + 100 = 1200. The reverse order
	// would give (1000+100)*1.1 = 1210.
	fs.adjustments = append(fs.adjustments,
		&models.PermanentAdjustment{ID: 1, TeamID: team.ID, Metric: "capacity", ChangeValue: 10, IsPercent: true, TargetRound: 1},
		&models.PermanentAdjustment{ID: 2, TeamID: team.ID, Metric: "capacity", ChangeValue: 100, TargetRound: 1},
	)
	fs.nextAdjID = 2

	rd, err := proc.RoundData(ctx, sessionID, team.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1200, rd.StartCapacity)
}

func TestPayoffDoubleDownCompounds(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 2)
	ctx := context.Background()
	doubler, single := teams[0], teams[1]

	fs.addDecision(doubler.ID, "inv2", "gamma")
	fs.addDecision(doubler.ID, "dd2", "gamma")
	fs.addDecision(single.ID, "inv2", "gamma")

	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "pay2")))

	// Doubled: 800 -> 880 -> 968. Applied once: 800 -> 880.
	rd, err := fs.GetRoundData(ctx, sessionID, doubler.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 968, rd.CurrentOrders)

	rd, err = fs.GetRoundData(ctx, sessionID, single.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 880, rd.CurrentOrders)
}

func TestPayoffSkipsTeamsWithoutInvestment(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 1)
	ctx := context.Background()

	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "pay1")))

	_, err := fs.GetRoundData(ctx, sessionID, teams[0].ID, 1)
	assert.ErrorIs(t, err, store.ErrNotFound, "no investment means no ledger activity")
}

func TestPayoffAppliesEachPurchasedOption(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 1)
	ctx := context.Background()
	team := teams[0]
	fs.addDecision(team.ID, "inv1", "alpha", "beta")

	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "pay1")))

	rd, err := fs.GetRoundData(ctx, sessionID, team.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 832, rd.CurrentOrders, "alpha pays +4 percent of 800")
	assert.Equal(t, 370000, rd.CurrentCost, "beta cuts cost by 30000")
}

func TestFinalizeRoundComputesFinancials(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 1)
	ctx := context.Background()
	team := teams[0]

	k := phase(t, proc, "kpi1")
	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, k))

	rd, err := fs.GetRoundData(ctx, sessionID, team.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 800*550, rd.Revenue)
	assert.Equal(t, 800*550-400000, rd.NetIncome)
	assert.InDelta(t, float64(40000)/float64(440000), rd.NetMargin, 1e-9)
	assert.True(t, rd.Finalized)

	// Finalizing again is a no-op thanks to the trigger mark.
	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, k))
	rd2, err := fs.GetRoundData(ctx, sessionID, team.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, rd.Revenue, rd2.Revenue)
}

func TestFinalizeZeroRevenueHasZeroMargin(t *testing.T) {
	fs := newFakeStore()
	sessionID := uuid.New()
	team := models.Team{ID: uuid.New(), SessionID: sessionID, Name: "Team 1"}
	fs.teams = []models.Team{team}

	pack := testPack()
	pack.StartingKPIs.Orders = 0
	proc := NewProcessor(pack, fs)

	ctx := context.Background()
	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "kpi1")))

	rd, err := fs.GetRoundData(ctx, sessionID, team.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, rd.Revenue)
	assert.Equal(t, -400000, rd.NetIncome)
	assert.Zero(t, rd.NetMargin)
}

func TestRetryOnlyTouchesFailedTeams(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 2)
	ctx := context.Background()
	okTeam, badTeam := teams[0], teams[1]

	fs.addDecision(okTeam.ID, "cho1", "push")
	fs.addDecision(badTeam.ID, "cho1", "push")
	fs.failApply[badTeam.ID] = errors.New("connection reset")

	ch := phase(t, proc, "cho1")
	err := proc.ApplyPhaseExit(ctx, sessionID, ch)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	require.Len(t, perr.Failures, 1)
	assert.Equal(t, badTeam.ID, perr.Failures[0].TeamID)
	assert.Equal(t, []string{badTeam.Name}, perr.TeamNames())

	rd, err2 := fs.GetRoundData(ctx, sessionID, okTeam.ID, 1)
	require.NoError(t, err2)
	assert.Equal(t, 1005, rd.CurrentCapacity)

	// Clear the fault and retry: the succeeded team is skipped by its mark,
	// the failed one is brought up to date.
	delete(fs.failApply, badTeam.ID)
	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, ch))

	rd, err2 = fs.GetRoundData(ctx, sessionID, okTeam.ID, 1)
	require.NoError(t, err2)
	assert.Equal(t, 1005, rd.CurrentCapacity, "retry must not double-apply")

	rd, err2 = fs.GetRoundData(ctx, sessionID, badTeam.ID, 1)
	require.NoError(t, err2)
	assert.Equal(t, 1005, rd.CurrentCapacity)
}

func TestEffectsSkipFinalizedRounds(t *testing.T) {
	proc, fs, sessionID, teams := setupProcessor(t, 1)
	ctx := context.Background()
	team := teams[0]
	fs.addDecision(team.ID, "cho1", "push")

	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "kpi1")))
	require.NoError(t, proc.ApplyPhaseExit(ctx, sessionID, phase(t, proc, "cho1")))

	rd, err := fs.GetRoundData(ctx, sessionID, team.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1000, rd.CurrentCapacity, "a finalized round never mutates")
}
