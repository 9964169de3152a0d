// Package content holds the immutable game structure: phases, slides, option
// tables and their KPI effects. A Pack is loaded once at startup and shared
// read-only by every session.
package content

// PhaseKind names the role a phase plays in a round.
type PhaseKind string

const (
	PhaseBriefing   PhaseKind = "briefing"
	PhaseInvestment PhaseKind = "investment"
	PhaseChoice     PhaseKind = "choice"
	PhaseDoubleDown PhaseKind = "doubledown"
	PhasePayoff     PhaseKind = "payoff"
	PhaseKPI        PhaseKind = "kpi"
	PhaseFinale     PhaseKind = "finale"
)

// SlideKind discriminates the slide variants the state machine dispatches on.
type SlideKind string

const (
	SlideStatic    SlideKind = "static"
	SlideVideo     SlideKind = "video"
	SlideDecision  SlideKind = "decision"
	SlideCountdown SlideKind = "countdown"
)

// Metric names one of the four tracked KPIs.
type Metric string

const (
	MetricCapacity Metric = "capacity"
	MetricOrders   Metric = "orders"
	MetricCost     Metric = "cost"
	MetricASP      Metric = "asp"
)

// Timing says whether an effect mutates the active round or queues for later.
type Timing string

const (
	TimingImmediate    Timing = "immediate"
	TimingCarryForward Timing = "carry-forward"
)

// Effect is one scripted KPI change. Immediate effects mutate the active
// round's current_* value; carry-forward effects queue one permanent
// adjustment per listed target round.
type Effect struct {
	KPI             Metric  `yaml:"kpi" json:"kpi"`
	ChangeValue     float64 `yaml:"change" json:"change_value"`
	IsPercent       bool    `yaml:"percent" json:"is_percent"`
	Timing          Timing  `yaml:"timing" json:"timing"`
	AppliesToRounds []int   `yaml:"rounds" json:"applies_to_rounds,omitempty"`
}

// MediaRef points at a processed media asset by name. DurationSec is the
// authored duration; the display may report a more precise one at runtime.
type MediaRef struct {
	Name        string  `yaml:"name" json:"name"`
	DurationSec float64 `yaml:"duration_sec" json:"duration_sec"`
}

// AlertDef is a blocking host-side interrupt carried by a slide.
type AlertDef struct {
	Title string `yaml:"title" json:"title"`
	Body  string `yaml:"body" json:"body"`
}

// Slide is the smallest navigable unit. Kind-specific fields are optional;
// Validate enforces which combinations are legal.
type Slide struct {
	ID          string    `yaml:"id" json:"id"`
	Kind        SlideKind `yaml:"kind" json:"kind"`
	Media       *MediaRef `yaml:"media" json:"media,omitempty"`
	TimerSec    int       `yaml:"timer_sec" json:"timer_sec,omitempty"`
	AutoAdvance bool      `yaml:"auto_advance" json:"auto_advance,omitempty"`
	Alert       *AlertDef `yaml:"alert" json:"alert,omitempty"`
}

// IsDecisionInput reports whether the slide accepts team submissions while
// current. Decision-active additionally requires the phase to be interactive.
func (s *Slide) IsDecisionInput() bool {
	return s.Kind == SlideDecision || s.Kind == SlideCountdown
}

// Phase is a named stage of the game scoped to a round number.
type Phase struct {
	ID          string    `yaml:"id" json:"id"`
	Round       int       `yaml:"round" json:"round"`
	Kind        PhaseKind `yaml:"kind" json:"kind"`
	Interactive bool      `yaml:"interactive" json:"interactive"`

	// DataKey selects this phase's option table (investment options,
	// challenge options, consequences or payoffs depending on Kind).
	DataKey string `yaml:"data_key" json:"data_key,omitempty"`

	// Budget and MaxSelections bound investment and double-down submissions.
	Budget        int `yaml:"budget" json:"budget,omitempty"`
	MaxSelections int `yaml:"max_selections" json:"max_selections,omitempty"`

	Slides []Slide `yaml:"slides" json:"slides"`
}

// LastSlideIndex returns the index of the phase's final slide.
func (p *Phase) LastSlideIndex() int {
	return len(p.Slides) - 1
}

// InvestmentOption is one purchasable option on an investment phase.
type InvestmentOption struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Cost  int    `yaml:"cost" json:"cost"`
}

// ChallengeOption is one selectable response on a choice phase.
type ChallengeOption struct {
	ID      string `yaml:"id" json:"id"`
	Label   string `yaml:"label" json:"label"`
	Default bool   `yaml:"default" json:"default,omitempty"`
}

// KPISet is the round-1 baseline for every team.
type KPISet struct {
	Capacity int `yaml:"capacity" json:"capacity"`
	Orders   int `yaml:"orders" json:"orders"`
	Cost     int `yaml:"cost" json:"cost"`
	ASP      int `yaml:"asp" json:"asp"`
}

// Pack is a complete, validated content pack.
type Pack struct {
	Name         string `yaml:"name" json:"name"`
	StartingKPIs KPISet `yaml:"starting_kpis" json:"starting_kpis"`

	Phases []Phase `yaml:"phases" json:"phases"`

	InvestmentOptions map[string][]InvestmentOption `yaml:"investment_options" json:"investment_options,omitempty"`
	ChallengeOptions  map[string][]ChallengeOption  `yaml:"challenge_options" json:"challenge_options,omitempty"`

	// Consequences and InvestmentPayoffs map data key -> option id -> effects.
	Consequences      map[string]map[string][]Effect `yaml:"consequences" json:"consequences,omitempty"`
	InvestmentPayoffs map[string]map[string][]Effect `yaml:"investment_payoffs" json:"investment_payoffs,omitempty"`
}

// PhaseByID returns the phase with the given id.
func (p *Pack) PhaseByID(id string) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return &p.Phases[i], true
		}
	}
	return nil, false
}

// PhaseIndex returns the position of a phase in content order.
func (p *Pack) PhaseIndex(id string) (int, bool) {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// FirstPhase returns the opening phase of the pack.
func (p *Pack) FirstPhase() *Phase {
	if len(p.Phases) == 0 {
		return nil
	}
	return &p.Phases[0]
}

// NextPhase returns the phase following the given one in content order.
func (p *Pack) NextPhase(id string) (*Phase, bool) {
	i, ok := p.PhaseIndex(id)
	if !ok || i+1 >= len(p.Phases) {
		return nil, false
	}
	return &p.Phases[i+1], true
}

// PrevPhase returns the phase preceding the given one in content order.
func (p *Pack) PrevPhase(id string) (*Phase, bool) {
	i, ok := p.PhaseIndex(id)
	if !ok || i == 0 {
		return nil, false
	}
	return &p.Phases[i-1], true
}

// SlideAt returns the slide at the given index within a phase.
func (p *Pack) SlideAt(phaseID string, idx int) (*Slide, bool) {
	ph, ok := p.PhaseByID(phaseID)
	if !ok || idx < 0 || idx >= len(ph.Slides) {
		return nil, false
	}
	return &ph.Slides[idx], true
}

// SlideByID finds a slide anywhere in the pack. Slide ids are unique across
// phases; Validate enforces that.
func (p *Pack) SlideByID(id string) (*Slide, bool) {
	for i := range p.Phases {
		for j := range p.Phases[i].Slides {
			if p.Phases[i].Slides[j].ID == id {
				return &p.Phases[i].Slides[j], true
			}
		}
	}
	return nil, false
}

// IsTerminalSlide reports whether (phaseID, slideIndex) is the last slide of
// the last phase. All navigation and completion detection go through this
// one predicate.
func (p *Pack) IsTerminalSlide(phaseID string, slideIndex int) bool {
	i, ok := p.PhaseIndex(phaseID)
	if !ok || i != len(p.Phases)-1 {
		return false
	}
	return slideIndex == p.Phases[i].LastSlideIndex()
}

// InvestmentPhaseForRound returns the round's investment phase, used by
// double-down validation and payoff resolution.
func (p *Pack) InvestmentPhaseForRound(round int) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].Round == round && p.Phases[i].Kind == PhaseInvestment {
			return &p.Phases[i], true
		}
	}
	return nil, false
}

// DoubleDownPhaseForRound returns the round's double-down phase if the pack
// has one for that round.
func (p *Pack) DoubleDownPhaseForRound(round int) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].Round == round && p.Phases[i].Kind == PhaseDoubleDown {
			return &p.Phases[i], true
		}
	}
	return nil, false
}

// InvestmentOption looks up one option in a data key's investment table.
func (p *Pack) InvestmentOption(dataKey, optionID string) (*InvestmentOption, bool) {
	opts := p.InvestmentOptions[dataKey]
	for i := range opts {
		if opts[i].ID == optionID {
			return &opts[i], true
		}
	}
	return nil, false
}

// ChallengeOption looks up one option in a data key's challenge table.
func (p *Pack) ChallengeOption(dataKey, optionID string) (*ChallengeOption, bool) {
	opts := p.ChallengeOptions[dataKey]
	for i := range opts {
		if opts[i].ID == optionID {
			return &opts[i], true
		}
	}
	return nil, false
}

// DefaultChallengeOption returns the option flagged default, falling back to
// the last-listed option if none is flagged.
func (p *Pack) DefaultChallengeOption(dataKey string) (*ChallengeOption, bool) {
	opts := p.ChallengeOptions[dataKey]
	if len(opts) == 0 {
		return nil, false
	}
	for i := range opts {
		if opts[i].Default {
			return &opts[i], true
		}
	}
	return &opts[len(opts)-1], true
}

// ConsequenceEffects returns the effect list for a chosen challenge option.
func (p *Pack) ConsequenceEffects(dataKey, optionID string) []Effect {
	if m, ok := p.Consequences[dataKey]; ok {
		return m[optionID]
	}
	return nil
}

// PayoffEffects returns the effect list for one purchased investment option.
func (p *Pack) PayoffEffects(dataKey, optionID string) []Effect {
	if m, ok := p.InvestmentPayoffs[dataKey]; ok {
		return m[optionID]
	}
	return nil
}
