package content

import "fmt"

const maxRound = 3

// Validate checks the structural rules a pack must satisfy before any
// session may run on it. It returns the first violation found.
func (p *Pack) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pack name is required")
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("pack has no phases")
	}
	if p.StartingKPIs.Capacity <= 0 || p.StartingKPIs.Orders <= 0 ||
		p.StartingKPIs.Cost <= 0 || p.StartingKPIs.ASP <= 0 {
		return fmt.Errorf("starting_kpis must all be positive")
	}

	phaseIDs := make(map[string]bool)
	slideIDs := make(map[string]bool)
	prevRound := 0
	for i := range p.Phases {
		ph := &p.Phases[i]
		if ph.ID == "" {
			return fmt.Errorf("phase %d: missing id", i)
		}
		if phaseIDs[ph.ID] {
			return fmt.Errorf("phase %q: duplicate id", ph.ID)
		}
		phaseIDs[ph.ID] = true

		if ph.Round < 0 || ph.Round > maxRound {
			return fmt.Errorf("phase %q: round %d out of range 0-%d", ph.ID, ph.Round, maxRound)
		}
		if ph.Round < prevRound {
			return fmt.Errorf("phase %q: round %d out of order (previous phase was round %d)", ph.ID, ph.Round, prevRound)
		}
		prevRound = ph.Round

		if err := p.validatePhaseKind(ph); err != nil {
			return err
		}
		if len(ph.Slides) == 0 {
			return fmt.Errorf("phase %q: no slides", ph.ID)
		}
		inputSlides := 0
		for j := range ph.Slides {
			s := &ph.Slides[j]
			if s.ID == "" {
				return fmt.Errorf("phase %q slide %d: missing id", ph.ID, j)
			}
			if slideIDs[s.ID] {
				return fmt.Errorf("slide %q: duplicate id", s.ID)
			}
			slideIDs[s.ID] = true
			if err := validateSlide(s); err != nil {
				return err
			}
			if s.IsDecisionInput() {
				inputSlides++
			}
		}
		if ph.Interactive && inputSlides == 0 {
			return fmt.Errorf("phase %q: interactive but has no decision or countdown slide", ph.ID)
		}
		if !ph.Interactive && inputSlides > 0 {
			return fmt.Errorf("phase %q: decision-input slides on a non-interactive phase", ph.ID)
		}
	}
	return nil
}

// validatePhaseKind checks kind-specific wiring: interactivity, data keys and
// option tables.
func (p *Pack) validatePhaseKind(ph *Phase) error {
	switch ph.Kind {
	case PhaseBriefing, PhasePayoff, PhaseKPI, PhaseFinale:
		if ph.Interactive {
			return fmt.Errorf("phase %q: kind %s cannot be interactive", ph.ID, ph.Kind)
		}
	case PhaseInvestment, PhaseChoice, PhaseDoubleDown:
		if !ph.Interactive {
			return fmt.Errorf("phase %q: kind %s must be interactive", ph.ID, ph.Kind)
		}
	default:
		return fmt.Errorf("phase %q: unknown kind %q", ph.ID, ph.Kind)
	}

	switch ph.Kind {
	case PhaseInvestment, PhaseChoice, PhaseDoubleDown, PhasePayoff, PhaseKPI:
		if ph.Round < 1 {
			return fmt.Errorf("phase %q: kind %s requires a round between 1 and %d", ph.ID, ph.Kind, maxRound)
		}
	}

	switch ph.Kind {
	case PhaseInvestment:
		opts := p.InvestmentOptions[ph.DataKey]
		if len(opts) == 0 {
			return fmt.Errorf("phase %q: no investment options for data key %q", ph.ID, ph.DataKey)
		}
		if ph.Budget <= 0 {
			return fmt.Errorf("phase %q: investment phase needs a positive budget", ph.ID)
		}
		for _, o := range opts {
			if o.Cost < 0 {
				return fmt.Errorf("phase %q: option %q has negative cost", ph.ID, o.ID)
			}
		}
	case PhaseChoice:
		opts := p.ChallengeOptions[ph.DataKey]
		if len(opts) == 0 {
			return fmt.Errorf("phase %q: no challenge options for data key %q", ph.ID, ph.DataKey)
		}
		defaults := 0
		for _, o := range opts {
			if o.Default {
				defaults++
			}
		}
		if defaults > 1 {
			return fmt.Errorf("phase %q: more than one default challenge option", ph.ID)
		}
		table := p.Consequences[ph.DataKey]
		for _, o := range opts {
			effects, ok := table[o.ID]
			if !ok {
				return fmt.Errorf("phase %q: option %q has no consequence entry", ph.ID, o.ID)
			}
			if err := p.validateEffects(ph, effects); err != nil {
				return fmt.Errorf("option %q: %w", o.ID, err)
			}
		}
	case PhaseDoubleDown:
		if _, ok := p.InvestmentPhaseForRound(ph.Round); !ok {
			return fmt.Errorf("phase %q: double-down phase without an investment phase in round %d", ph.ID, ph.Round)
		}
	case PhasePayoff:
		table, ok := p.InvestmentPayoffs[ph.DataKey]
		if !ok || len(table) == 0 {
			return fmt.Errorf("phase %q: no investment payoffs for data key %q", ph.ID, ph.DataKey)
		}
		inv, ok := p.InvestmentPhaseForRound(ph.Round)
		if !ok {
			return fmt.Errorf("phase %q: payoff phase without an investment phase in round %d", ph.ID, ph.Round)
		}
		for optionID, effects := range table {
			if _, ok := p.InvestmentOption(inv.DataKey, optionID); !ok {
				return fmt.Errorf("phase %q: payoff for unknown investment option %q", ph.ID, optionID)
			}
			if err := p.validateEffects(ph, effects); err != nil {
				return fmt.Errorf("payoff option %q: %w", optionID, err)
			}
		}
	}
	return nil
}

func (p *Pack) validateEffects(ph *Phase, effects []Effect) error {
	for i, e := range effects {
		switch e.KPI {
		case MetricCapacity, MetricOrders, MetricCost, MetricASP:
		default:
			return fmt.Errorf("effect %d: unknown kpi %q", i, e.KPI)
		}
		switch e.Timing {
		case TimingImmediate:
			if len(e.AppliesToRounds) > 0 {
				return fmt.Errorf("effect %d: immediate effect must not list target rounds", i)
			}
		case TimingCarryForward:
			if len(e.AppliesToRounds) == 0 {
				return fmt.Errorf("effect %d: carry-forward effect must list target rounds", i)
			}
			for _, r := range e.AppliesToRounds {
				if r <= ph.Round || r > maxRound {
					return fmt.Errorf("effect %d: carry-forward target round %d not after round %d", i, r, ph.Round)
				}
			}
		default:
			return fmt.Errorf("effect %d: unknown timing %q", i, e.Timing)
		}
	}
	return nil
}

func validateSlide(s *Slide) error {
	switch s.Kind {
	case SlideStatic:
		if s.Media != nil {
			return fmt.Errorf("slide %q: static slide cannot carry media", s.ID)
		}
		if s.AutoAdvance {
			return fmt.Errorf("slide %q: auto_advance requires media", s.ID)
		}
	case SlideVideo:
		if s.Media == nil || s.Media.Name == "" {
			return fmt.Errorf("slide %q: video slide needs a media reference", s.ID)
		}
		if s.Media.DurationSec <= 0 {
			return fmt.Errorf("slide %q: media duration must be positive", s.ID)
		}
	case SlideDecision:
		if s.AutoAdvance {
			return fmt.Errorf("slide %q: decision slide cannot auto-advance", s.ID)
		}
	case SlideCountdown:
		if s.TimerSec <= 0 && s.Media == nil {
			return fmt.Errorf("slide %q: countdown slide needs a timer or timed media", s.ID)
		}
	default:
		return fmt.Errorf("slide %q: unknown kind %q", s.ID, s.Kind)
	}
	if s.TimerSec < 0 {
		return fmt.Errorf("slide %q: negative timer", s.ID)
	}
	if s.TimerSec > 0 && !s.IsDecisionInput() {
		return fmt.Errorf("slide %q: timer on a non-decision slide", s.ID)
	}
	return nil
}
