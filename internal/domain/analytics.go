package domain

import "github.com/shopspring/decimal"

// ParticipantStats is one leaderboard row.
type ParticipantStats struct {
	ParticipantID string          `json:"participant_id"`
	TotalBets     int             `json:"total_bets"`
	Wins          int             `json:"wins"`
	TotalStaked   decimal.Decimal `json:"total_staked"`
	TotalWinnings decimal.Decimal `json:"total_winnings"`
	WinRate       float64         `json:"win_rate"`
	Rank          int             `json:"rank"`

	// Inputs to EarnedBadges.
	LongestWinStreak   int             `json:"longest_win_streak"`
	BestMarketWinnings decimal.Decimal `json:"best_market_winnings"`
	MarketsResolved    int             `json:"markets_resolved"`

	Badges []Badge `json:"badges"`
}

// CreatorAnalytics aggregates a creator's markets.
type CreatorAnalytics struct {
	CreatorID         string          `json:"creator_id"`
	MarketsCreated    int             `json:"markets_created"`
	MarketsResolved   int             `json:"markets_resolved"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalParticipants int             `json:"total_participants"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	TotalBets         int             `json:"total_bets"`
	AverageBetSize    decimal.Decimal `json:"average_bet_size"`
}
