package domain

import "github.com/shopspring/decimal"

// BadgeRarity grades how hard a badge is to earn.
type BadgeRarity string

const (
	RarityCommon    BadgeRarity = "common"
	RarityRare      BadgeRarity = "rare"
	RarityEpic      BadgeRarity = "epic"
	RarityLegendary BadgeRarity = "legendary"
)

// Badge is an achievement shown next to a participant on the leaderboard.
type Badge struct {
	ID          string      `json:"badge_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Rarity      BadgeRarity `json:"rarity"`
}

// Badge thresholds.
const (
	HotStreakLength      = 5
	MarketMasterResolved = 10
)

// BigWinnerThreshold is the winnings in one market, in token units, above
// which a participant earns the big winner badge.
var BigWinnerThreshold = decimal.NewFromInt(1)

var (
	BadgeFirstBet     = Badge{ID: "first_bet", Name: "First Bet", Description: "Placed your first prediction", Rarity: RarityCommon}
	BadgeHotStreak    = Badge{ID: "winning_streak", Name: "Hot Streak", Description: "5 correct predictions in a row", Rarity: RarityRare}
	BadgeBigWinner    = Badge{ID: "big_winner", Name: "Big Winner", Description: "Won over 1 token in a single market", Rarity: RarityEpic}
	BadgeMarketMaster = Badge{ID: "market_master", Name: "Market Master", Description: "Created 10 successful markets", Rarity: RarityLegendary}
)

// EarnedBadges lists the badges p qualifies for, commonest first. It never
// returns nil so the JSON field is always an array.
func EarnedBadges(p ParticipantStats) []Badge {
	out := []Badge{}
	if p.TotalBets > 0 {
		out = append(out, BadgeFirstBet)
	}
	if p.LongestWinStreak >= HotStreakLength {
		out = append(out, BadgeHotStreak)
	}
	if p.BestMarketWinnings.GreaterThan(BigWinnerThreshold) {
		out = append(out, BadgeBigWinner)
	}
	if p.MarketsResolved >= MarketMasterResolved {
		out = append(out, BadgeMarketMaster)
	}
	return out
}
