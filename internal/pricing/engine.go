// Package pricing converts the stake distribution of a market into quoted
// odds. The engine and analytics are pure functions of their arguments: no
// clocks, no I/O, no shared state. Callers own scheduling and persistence and
// fetch external signals through a SignalSource.
package pricing

import (
	"math"
	"time"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// Config tunes the odds transform. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// Volatility bounds the combined external-signal perturbation.
	Volatility float64
	// Momentum is the flat probability bonus for markets younger than a day.
	// Markets younger than an hour get twice this.
	Momentum float64
	MinProbability float64
	MaxProbability float64
	MinOdds        float64
	MaxOdds        float64
}

// DefaultConfig returns the reference constants.
func DefaultConfig() Config {
	return Config{
		Volatility:     0.1,
		Momentum:       0.05,
		MinProbability: 0.05,
		MaxProbability: 0.95,
		MinOdds:        1.1,
		MaxOdds:        10.0,
	}
}

// Validate checks that the bounds are ordered and the constants finite.
func (c Config) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"volatility", c.Volatility},
		{"momentum", c.Momentum},
		{"min_probability", c.MinProbability},
		{"max_probability", c.MaxProbability},
		{"min_odds", c.MinOdds},
		{"max_odds", c.MaxOdds},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return domain.NewValidationError(f.name, "must be a finite non-negative number")
		}
	}
	if c.MinProbability <= 0 || c.MaxProbability >= 1 || c.MinProbability >= c.MaxProbability {
		return domain.NewValidationError("probability", "bounds must satisfy 0 < min < max < 1")
	}
	if c.MinOdds < 1 || c.MinOdds >= c.MaxOdds {
		return domain.NewValidationError("odds", "bounds must satisfy 1 <= min < max")
	}
	return nil
}

// Engine recomputes quoted odds. It is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine returns an Engine for cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// RecomputeOdds returns a copy of market with every outcome's odds replaced.
//
// Markets that are not active are returned unchanged. An outcome with no
// stake keeps its current odds, so with a zero total pool nothing changes.
// Every other outcome gets
//
//	p    = clamp(share + momentum(age) + external, minProb, maxProb)
//	odds = clamp(1 + (p*b - q)/b, minOdds, maxOdds)   with b = 1, q = 1 - p
//
// asOf is the instant the market age is measured against. Invalid markets or
// out-of-range signals are rejected before any odds are computed.
func (e *Engine) RecomputeOdds(market domain.Market, factors domain.ExternalFactors, asOf time.Time) (domain.Market, error) {
	if !market.IsActive() {
		return market, nil
	}
	if err := market.Validate(); err != nil {
		return domain.Market{}, err
	}
	if err := validateFactors(market, factors); err != nil {
		return domain.Market{}, err
	}

	out := market.Clone()
	total := market.TotalPool()
	if total.IsZero() {
		return out, nil
	}

	momentum := e.momentum(asOf.Sub(market.CreatedAt))
	totalF := total.InexactFloat64()
	for i, o := range out.Outcomes {
		if o.TotalStaked.IsZero() {
			// an empty pool keeps its quote until its first stake arrives
			continue
		}
		share := o.TotalStaked.InexactFloat64() / totalF
		p := clamp(share+momentum+e.external(factors.For(o.ID)), e.cfg.MinProbability, e.cfg.MaxProbability)
		out.Outcomes[i].Odds = clamp(kellyOdds(p), e.cfg.MinOdds, e.cfg.MaxOdds)
	}
	return out, nil
}

// momentum favours freshly opened markets. A negative age (clock skew) is
// treated as brand new.
func (e *Engine) momentum(age time.Duration) float64 {
	switch {
	case age < time.Hour:
		return e.cfg.Momentum * 2
	case age < 24*time.Hour:
		return e.cfg.Momentum
	default:
		return 0
	}
}

// external maps caller-supplied signals to a probability perturbation with
// magnitude at most Volatility.
func (e *Engine) external(s domain.Signals) float64 {
	half := e.cfg.Volatility / 2
	var term float64
	if s.Sentiment != nil {
		term += *s.Sentiment * half
	}
	if s.NewsImpact != nil {
		term += *s.NewsImpact * half
	}
	if s.SocialVolume != nil {
		term *= (1 + *s.SocialVolume) / 2
	}
	return term
}

// kellyOdds converts a win probability into a multiplier with unit edge.
func kellyOdds(p float64) float64 {
	const b = 1.0
	q := 1 - p
	return 1 + (p*b-q)/b
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func validateFactors(market domain.Market, f domain.ExternalFactors) error {
	if err := validateSignals("external_factors", f.Signals); err != nil {
		return err
	}
	for id, s := range f.PerOutcome {
		if _, ok := market.Outcome(id); !ok {
			return domain.NewValidationError("external_factors.per_outcome", "unknown outcome "+id)
		}
		if err := validateSignals("external_factors.per_outcome."+id, s); err != nil {
			return err
		}
	}
	return nil
}

func validateSignals(field string, s domain.Signals) error {
	if s.Sentiment != nil && !within(*s.Sentiment, -1, 1) {
		return domain.NewValidationError(field+".sentiment", "must be within [-1, 1]")
	}
	if s.NewsImpact != nil && !within(*s.NewsImpact, -1, 1) {
		return domain.NewValidationError(field+".news_impact", "must be within [-1, 1]")
	}
	if s.SocialVolume != nil && !within(*s.SocialVolume, 0, 1) {
		return domain.NewValidationError(field+".social_volume", "must be within [0, 1]")
	}
	return nil
}

// within is false for NaN.
func within(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
