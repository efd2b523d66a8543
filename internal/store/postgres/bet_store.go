package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// BetStore implements domain.BetStore. Ledger order is insertion order
// (the seq column), which settlement relies on to break payout ties.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `id, market_id, participant_id, outcome_id, amount, placed_at, status, potential_payout`

// Place applies a bet under a row lock on its market: the bet is inserted,
// its stake added to the outcome pool and the market volume, and the
// participant counted when this is their first bet on the market.
func (s *BetStore) Place(ctx context.Context, bet domain.Bet) (domain.Market, error) {
	var updated domain.Market
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		m, err := getMarket(ctx, tx, bet.MarketID, true)
		if err != nil {
			return err
		}
		if !m.IsActive() {
			return domain.ErrMarketNotActive
		}
		if m.ClosesAt != nil && !bet.PlacedAt.Before(*m.ClosesAt) {
			return domain.ErrMarketNotActive
		}
		if _, ok := m.Outcome(bet.OutcomeID); !ok {
			return domain.NewValidationError("outcome_id", "unknown outcome "+bet.OutcomeID)
		}

		var seen bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM bets WHERE market_id = $1 AND participant_id = $2)`,
			bet.MarketID, bet.ParticipantID,
		).Scan(&seen); err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		newParticipant := 0
		if !seen {
			newParticipant = 1
		}

		batch := &pgx.Batch{}
		batch.Queue(`INSERT INTO bets (`+betCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			bet.ID, bet.MarketID, bet.ParticipantID, bet.OutcomeID, bet.Amount, bet.PlacedAt,
			string(domain.BetStatusPending), bet.PotentialPayout)
		batch.Queue(`UPDATE outcomes SET total_staked = total_staked + $3 WHERE market_id = $1 AND id = $2`,
			bet.MarketID, bet.OutcomeID, bet.Amount)
		batch.Queue(`
			UPDATE markets
			SET volume = volume + $2, participants = participants + $3, updated_at = $4
			WHERE id = $1`,
			bet.MarketID, bet.Amount, newParticipant, bet.PlacedAt)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		updated, err = getMarket(ctx, tx, bet.MarketID, false)
		return err
	})
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.Market{}, fmt.Errorf("postgres: place bet %s: %w", bet.ID, domain.ErrAlreadyExists)
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrMarketNotActive), errors.Is(err, domain.ErrValidation):
			return domain.Market{}, err
		}
		return domain.Market{}, fmt.Errorf("postgres: place bet %s: %w", bet.ID, err)
	}
	return updated, nil
}

// ListByMarket returns the complete ledger of a market in placement order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	bets, err := listBets(ctx, s.pool,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %s: %w", marketID, err)
	}
	return bets, nil
}

// ListByParticipant returns a participant's bets, newest first.
func (s *BetStore) ListByParticipant(ctx context.Context, participantID string, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE participant_id = $1`
	args := []any{participantID}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND placed_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND placed_at <= $%d", len(args))
	}
	query, args = pageClause(query+" ORDER BY seq DESC", args, opts.Limit, opts.Offset)

	bets, err := listBets(ctx, s.pool, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for participant %s: %w", participantID, err)
	}
	return bets, nil
}

// Leaderboard ranks participants by settled winnings.
func (s *BetStore) Leaderboard(ctx context.Context, limit int) ([]domain.ParticipantStats, error) {
	// Win streaks are runs of consecutive won bets in placement order: the
	// two row numbers differ by a constant along each run.
	query, args := pageClause(`
		WITH settled AS (
			SELECT participant_id, status,
			       ROW_NUMBER() OVER (PARTITION BY participant_id ORDER BY placed_at, seq)
			     - ROW_NUMBER() OVER (PARTITION BY participant_id, status ORDER BY placed_at, seq) AS run
			FROM bets
			WHERE status IN ('won', 'lost')
		), streaks AS (
			SELECT participant_id, MAX(n) AS longest
			FROM (
				SELECT participant_id, run, COUNT(*) AS n
				FROM settled WHERE status = 'won'
				GROUP BY participant_id, run
			) r
			GROUP BY participant_id
		), market_wins AS (
			SELECT participant_id, MAX(won) AS best
			FROM (
				SELECT participant_id, market_id, SUM(potential_payout) AS won
				FROM bets WHERE status = 'won'
				GROUP BY participant_id, market_id
			) w
			GROUP BY participant_id
		), created AS (
			SELECT creator_id, COUNT(*) AS resolved
			FROM markets WHERE status = 'resolved'
			GROUP BY creator_id
		)
		SELECT b.participant_id,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE b.status = 'won'),
		       COUNT(*) FILTER (WHERE b.status IN ('won', 'lost')),
		       COALESCE(SUM(b.amount), 0),
		       COALESCE(SUM(b.potential_payout) FILTER (WHERE b.status = 'won'), 0) AS winnings,
		       COALESCE(MAX(st.longest), 0),
		       COALESCE(MAX(mw.best), 0),
		       COALESCE(MAX(c.resolved), 0)
		FROM bets b
		LEFT JOIN streaks st ON st.participant_id = b.participant_id
		LEFT JOIN market_wins mw ON mw.participant_id = b.participant_id
		LEFT JOIN created c ON c.creator_id = b.participant_id
		GROUP BY b.participant_id
		ORDER BY winnings DESC, b.participant_id`, nil, limit, 0)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.ParticipantStats
	for rows.Next() {
		var p domain.ParticipantStats
		var settled int
		if err := rows.Scan(&p.ParticipantID, &p.TotalBets, &p.Wins, &settled, &p.TotalStaked, &p.TotalWinnings,
			&p.LongestWinStreak, &p.BestMarketWinnings, &p.MarketsResolved); err != nil {
			return nil, fmt.Errorf("postgres: scan leaderboard row: %w", err)
		}
		if settled > 0 {
			p.WinRate = float64(p.Wins) / float64(settled)
		}
		p.Rank = len(out) + 1
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: leaderboard rows: %w", err)
	}
	return out, nil
}

func listBets(ctx context.Context, q querier, query string, args ...any) ([]domain.Bet, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Bet, error) {
		var b domain.Bet
		var status string
		err := row.Scan(&b.ID, &b.MarketID, &b.ParticipantID, &b.OutcomeID, &b.Amount,
			&b.PlacedAt, &status, &b.PotentialPayout)
		b.Status = domain.BetStatus(status)
		return b, err
	})
}

var _ domain.BetStore = (*BetStore)(nil)
