package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPackLoads(t *testing.T) {
	pack, err := Default()
	require.NoError(t, err)
	require.NotNil(t, pack)

	assert.Equal(t, "boardroom-demo", pack.Name)
	require.NotEmpty(t, pack.Phases)
	assert.Equal(t, "intro", pack.FirstPhase().ID)

	// Every interactive phase must expose at least one input slide.
	for _, ph := range pack.Phases {
		if !ph.Interactive {
			continue
		}
		found := false
		for i := range ph.Slides {
			if ph.Slides[i].IsDecisionInput() {
				found = true
			}
		}
		assert.True(t, found, "phase %s has no input slide", ph.ID)
	}
}

func TestTerminalSlidePredicate(t *testing.T) {
	pack, err := Default()
	require.NoError(t, err)

	last := pack.Phases[len(pack.Phases)-1]
	assert.True(t, pack.IsTerminalSlide(last.ID, last.LastSlideIndex()))
	assert.False(t, pack.IsTerminalSlide(last.ID, 0))

	first := pack.FirstPhase()
	assert.False(t, pack.IsTerminalSlide(first.ID, first.LastSlideIndex()))
	assert.False(t, pack.IsTerminalSlide("no-such-phase", 0))
}

func TestPhaseOrderLookups(t *testing.T) {
	pack, err := Default()
	require.NoError(t, err)

	next, ok := pack.NextPhase("intro")
	require.True(t, ok)
	assert.Equal(t, "r1-invest", next.ID)

	prev, ok := pack.PrevPhase("r1-invest")
	require.True(t, ok)
	assert.Equal(t, "intro", prev.ID)

	_, ok = pack.PrevPhase("intro")
	assert.False(t, ok)

	lastID := pack.Phases[len(pack.Phases)-1].ID
	_, ok = pack.NextPhase(lastID)
	assert.False(t, ok)

	inv, ok := pack.InvestmentPhaseForRound(2)
	require.True(t, ok)
	assert.Equal(t, "r2-invest", inv.ID)
}

func TestDefaultChallengeOption(t *testing.T) {
	pack := &Pack{
		ChallengeOptions: map[string][]ChallengeOption{
			"flagged": {
				{ID: "a", Label: "A"},
				{ID: "b", Label: "B", Default: true},
				{ID: "c", Label: "C"},
			},
			"unflagged": {
				{ID: "x", Label: "X"},
				{ID: "y", Label: "Y"},
			},
		},
	}

	opt, ok := pack.DefaultChallengeOption("flagged")
	require.True(t, ok)
	assert.Equal(t, "b", opt.ID)

	// Without a flag the last-listed option is the default.
	opt, ok = pack.DefaultChallengeOption("unflagged")
	require.True(t, ok)
	assert.Equal(t, "y", opt.ID)

	_, ok = pack.DefaultChallengeOption("missing")
	assert.False(t, ok)
}

func TestEffectLookups(t *testing.T) {
	pack, err := Default()
	require.NoError(t, err)

	effects := pack.ConsequenceEffects("r1-challenge", "delay")
	require.Len(t, effects, 1)
	assert.Equal(t, MetricOrders, effects[0].KPI)
	assert.Equal(t, TimingImmediate, effects[0].Timing)

	effects = pack.ConsequenceEffects("r1-challenge", "local-source")
	require.Len(t, effects, 2)
	assert.Equal(t, TimingCarryForward, effects[1].Timing)
	assert.Equal(t, []int{2}, effects[1].AppliesToRounds)

	assert.Nil(t, pack.ConsequenceEffects("r1-challenge", "no-such-option"))
	assert.Nil(t, pack.PayoffEffects("no-such-key", "automation"))

	effects = pack.PayoffEffects("r2-payoffs", "second-line")
	require.Len(t, effects, 2)
	assert.False(t, effects[1].IsPercent)
	assert.Equal(t, float64(30000), effects[1].ChangeValue)
}

func TestParseRejectsInvalidPacks(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown field",
			yaml: `
name: bad
starting_kpis: { capacity: 1, orders: 1, cost: 1, asp: 1 }
phases:
  - id: p1
    round: 0
    kind: briefing
    interactive: false
    surprise: true
    slides:
      - { id: s1, kind: static }
`,
		},
		{
			name: "duplicate slide id",
			yaml: `
name: bad
starting_kpis: { capacity: 1, orders: 1, cost: 1, asp: 1 }
phases:
  - id: p1
    round: 0
    kind: briefing
    interactive: false
    slides:
      - { id: s1, kind: static }
      - { id: s1, kind: static }
`,
		},
		{
			name: "interactive briefing",
			yaml: `
name: bad
starting_kpis: { capacity: 1, orders: 1, cost: 1, asp: 1 }
phases:
  - id: p1
    round: 0
    kind: briefing
    interactive: true
    slides:
      - { id: s1, kind: static }
`,
		},
		{
			name: "choice without options",
			yaml: `
name: bad
starting_kpis: { capacity: 1, orders: 1, cost: 1, asp: 1 }
phases:
  - id: p1
    round: 1
    kind: choice
    interactive: true
    data_key: missing
    slides:
      - { id: s1, kind: decision }
`,
		},
		{
			name: "carry-forward without target rounds",
			yaml: `
name: bad
starting_kpis: { capacity: 1, orders: 1, cost: 1, asp: 1 }
challenge_options:
  k: [{ id: a, label: A }]
consequences:
  k:
    a:
      - { kpi: cost, change: 5, percent: true, timing: carry-forward }
phases:
  - id: p1
    round: 1
    kind: choice
    interactive: true
    data_key: k
    slides:
      - { id: s1, kind: decision }
`,
		},
		{
			name: "video without media",
			yaml: `
name: bad
starting_kpis: { capacity: 1, orders: 1, cost: 1, asp: 1 }
phases:
  - id: p1
    round: 0
    kind: briefing
    interactive: false
    slides:
      - { id: s1, kind: video }
`,
		},
		{
			name: "rounds out of order",
			yaml: `
name: bad
starting_kpis: { capacity: 1, orders: 1, cost: 1, asp: 1 }
phases:
  - id: p1
    round: 2
    kind: briefing
    interactive: false
    slides:
      - { id: s1, kind: static }
  - id: p2
    round: 1
    kind: briefing
    interactive: false
    slides:
      - { id: s2, kind: static }
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}
