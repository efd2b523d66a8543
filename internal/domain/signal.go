package domain

import "time"

// Signals is an optional bag of external inputs for one market or outcome.
// Nil fields are absent. Sentiment and NewsImpact lie in [-1, 1],
// SocialVolume in [0, 1].
type Signals struct {
	Sentiment    *float64 `json:"sentiment,omitempty"`
	NewsImpact   *float64 `json:"news_impact,omitempty"`
	SocialVolume *float64 `json:"social_volume,omitempty"`
}

// Empty reports whether no signal is present.
func (s Signals) Empty() bool {
	return s.Sentiment == nil && s.NewsImpact == nil && s.SocialVolume == nil
}

// ExternalFactors carries market-wide signals plus optional per-outcome
// overrides keyed by outcome id.
type ExternalFactors struct {
	Signals
	PerOutcome map[string]Signals `json:"per_outcome,omitempty"`
}

// For returns the signals that apply to outcomeID.
func (f ExternalFactors) For(outcomeID string) Signals {
	if s, ok := f.PerOutcome[outcomeID]; ok {
		return s
	}
	return f.Signals
}

// VolatilityRecommendation is the spread action suggested by Volatility.
type VolatilityRecommendation string

const (
	RecommendIncreaseSpread VolatilityRecommendation = "increase_spread"
	RecommendMaintain       VolatilityRecommendation = "maintain"
)

// MarketVolatility summarises how unevenly stake is spread across outcomes.
type MarketVolatility struct {
	Variance         float64                  `json:"variance"`
	Volatility       float64                  `json:"volatility"`
	IsHighVolatility bool                     `json:"is_high_volatility"`
	Recommendation   VolatilityRecommendation `json:"recommended_adjustment"`
}

// PredictionAction is the creator action suggested by PredictMovement.
type PredictionAction string

const (
	ActionResolveEarly       PredictionAction = "resolve_early"
	ActionContinueMonitoring PredictionAction = "continue_monitoring"
)

// MarketPrediction is a crowd-based guess of where a market is heading.
type MarketPrediction struct {
	PredictedWinnerID string           `json:"predicted_winner_id,omitempty"`
	PredictedWinner   string           `json:"predicted_winner,omitempty"`
	Confidence        float64          `json:"confidence"`
	HoursToResolution float64          `json:"time_to_resolution_hours"`
	Action            PredictionAction `json:"recommended_action"`
}

// OddsUpdate is the event published after a market is re-priced.
type OddsUpdate struct {
	MarketID string             `json:"market_id"`
	Odds     map[string]float64 `json:"odds"`
	AsOf     time.Time          `json:"as_of"`
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}
