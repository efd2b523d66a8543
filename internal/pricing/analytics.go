package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

const (
	highVariance     = 0.15
	spreadVariance   = 0.2
	resolveThreshold = 0.7
)

// Volatility measures how unevenly stake is spread across outcomes. A market
// without stake reports zero variance.
func Volatility(market domain.Market) domain.MarketVolatility {
	total := market.TotalPool()
	n := len(market.Outcomes)
	if total.IsZero() || n == 0 {
		return domain.MarketVolatility{Recommendation: domain.RecommendMaintain}
	}

	totalF := total.InexactFloat64()
	shares := make([]float64, n)
	var mean float64
	for i, o := range market.Outcomes {
		shares[i] = o.TotalStaked.InexactFloat64() / totalF
		mean += shares[i]
	}
	mean /= float64(n)

	var variance float64
	for _, s := range shares {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(n)

	rec := domain.RecommendMaintain
	if variance > spreadVariance {
		rec = domain.RecommendIncreaseSpread
	}
	return domain.MarketVolatility{
		Variance:         variance,
		Volatility:       math.Sqrt(variance),
		IsHighVolatility: variance > highVariance,
		Recommendation:   rec,
	}
}

// PredictMovement names the outcome the crowd currently favours and how long
// the market is likely to stay open. Ties go to the later outcome.
func PredictMovement(market domain.Market, asOf time.Time) domain.MarketPrediction {
	total := market.TotalPool()
	pred := domain.MarketPrediction{
		HoursToResolution: hoursToResolution(total, asOf.Sub(market.CreatedAt)),
		Action:            domain.ActionContinueMonitoring,
	}
	if total.IsZero() || len(market.Outcomes) == 0 {
		return pred
	}

	lead := market.Outcomes[0]
	for _, o := range market.Outcomes[1:] {
		if !lead.TotalStaked.GreaterThan(o.TotalStaked) {
			lead = o
		}
	}
	pred.PredictedWinnerID = lead.ID
	pred.PredictedWinner = lead.Name
	pred.Confidence = lead.TotalStaked.Div(total).InexactFloat64()
	if pred.Confidence > resolveThreshold {
		pred.Action = domain.ActionResolveEarly
	}
	return pred
}

// hoursToResolution assumes busier markets resolve sooner.
func hoursToResolution(pool decimal.Decimal, age time.Duration) float64 {
	hours := age.Hours()
	horizon := 72.0
	switch {
	case pool.GreaterThan(decimal.NewFromInt(10)):
		horizon = 24
	case pool.GreaterThan(decimal.NewFromInt(5)):
		horizon = 48
	}
	return math.Max(1, horizon-hours)
}
