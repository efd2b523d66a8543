package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// SettlementStore implements domain.SettlementStore. Saving is the single
// place a market leaves the Active state, guarded by a conditional UPDATE so
// two settlers racing past their locks cannot both commit.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementCols = `market_id, kind, COALESCE(winning_outcome_id, ''), total_pool, creator_cut,
	payout_pool, winning_stake, winner_count, unclaimed, remainder, COALESCE(remainder_bet_id, ''), settled_at`

// Save commits the final market state, every bet status and the result.
// The market must still be active and hold exactly the settled pool; a bet
// placed after the ledger was read fails the save with
// domain.ErrLedgerChanged.
func (s *SettlementStore) Save(ctx context.Context, st domain.Settlement) error {
	m, r := st.Market, st.Result
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE markets
			SET status = $2, winning_outcome_id = NULLIF($3, ''), resolved_at = $4, updated_at = $4
			WHERE id = $1 AND status = 'active' AND volume = $5`,
			m.ID, string(m.Status), m.WinningOutcomeID, r.SettledAt, r.TotalPool)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notSettleable(ctx, tx, m.ID)
		}

		batch := &pgx.Batch{}
		for _, b := range st.Bets {
			batch.Queue(`UPDATE bets SET status = $2, potential_payout = $3 WHERE id = $1 AND market_id = $4`,
				b.ID, string(b.Status), b.PotentialPayout, m.ID)
		}
		batch.Queue(`
			INSERT INTO settlements (
				market_id, kind, winning_outcome_id, total_pool, creator_cut, payout_pool,
				winning_stake, winner_count, unclaimed, remainder, remainder_bet_id, settled_at
			) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)`,
			r.MarketID, string(r.Kind), r.WinningOutcomeID, r.TotalPool, r.CreatorCut, r.PayoutPool,
			r.WinningStake, r.WinnerCount, r.Unclaimed, r.Remainder, r.RemainderBetID, r.SettledAt)
		for _, p := range r.Payouts {
			batch.Queue(`
				INSERT INTO settlement_payouts (bet_id, market_id, participant_id, outcome_id, stake, payout, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				p.BetID, r.MarketID, p.ParticipantID, p.OutcomeID, p.Stake, p.Payout, string(p.Status))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var already *domain.AlreadyResolvedError
		if errors.As(err, &already) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("postgres: save settlement %s: %w", m.ID, err)
	}
	return nil
}

// notSettleable explains why the guarded UPDATE matched no row.
func notSettleable(ctx context.Context, q querier, marketID string) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM markets WHERE id = $1`, marketID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if domain.MarketStatus(status) == domain.MarketStatusActive {
		return domain.ErrLedgerChanged
	}
	return &domain.AlreadyResolvedError{MarketID: marketID, Status: domain.MarketStatus(status)}
}

// GetByMarket returns the stored result with payouts in ledger order.
func (s *SettlementStore) GetByMarket(ctx context.Context, marketID string) (domain.SettlementResult, error) {
	results, err := s.query(ctx, `SELECT `+settlementCols+` FROM settlements WHERE market_id = $1`, marketID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("postgres: get settlement %s: %w", marketID, err)
	}
	if len(results) == 0 {
		return domain.SettlementResult{}, domain.ErrNotFound
	}
	return results[0], nil
}

// ListBefore returns results settled strictly before the given instant,
// oldest first.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementResult, error) {
	results, err := s.query(ctx,
		`SELECT `+settlementCols+` FROM settlements WHERE settled_at < $1 ORDER BY settled_at, market_id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before %s: %w", before.Format(time.RFC3339), err)
	}
	return results, nil
}

// CreatorAnalytics aggregates every market a creator opened.
func (s *SettlementStore) CreatorAnalytics(ctx context.Context, creatorID string) (domain.CreatorAnalytics, error) {
	a := domain.CreatorAnalytics{CreatorID: creatorID}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE m.status = 'resolved'),
		       COALESCE(SUM(m.participants), 0),
		       COALESCE(SUM(m.volume), 0),
		       COALESCE(SUM(st.creator_cut), 0),
		       (SELECT COUNT(*) FROM bets b JOIN markets bm ON bm.id = b.market_id WHERE bm.creator_id = $1)
		FROM markets m
		LEFT JOIN settlements st ON st.market_id = m.id
		WHERE m.creator_id = $1`, creatorID,
	).Scan(&a.MarketsCreated, &a.MarketsResolved, &a.TotalParticipants, &a.TotalVolume, &a.TotalRevenue, &a.TotalBets)
	if err != nil {
		return domain.CreatorAnalytics{}, fmt.Errorf("postgres: creator analytics %s: %w", creatorID, err)
	}
	a.AverageBetSize = decimal.Zero
	if a.TotalBets > 0 {
		a.AverageBetSize = a.TotalVolume.DivRound(decimal.NewFromInt(int64(a.TotalBets)), 18)
	}
	return a, nil
}

func (s *SettlementStore) query(ctx context.Context, query string, args ...any) ([]domain.SettlementResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SettlementResult, error) {
		var r domain.SettlementResult
		var kind string
		err := row.Scan(&r.MarketID, &kind, &r.WinningOutcomeID, &r.TotalPool, &r.CreatorCut,
			&r.PayoutPool, &r.WinningStake, &r.WinnerCount, &r.Unclaimed, &r.Remainder,
			&r.RemainderBetID, &r.SettledAt)
		r.Kind = domain.SettlementKind(kind)
		return r, err
	})
	if err != nil || len(results) == 0 {
		return results, err
	}

	ids := make([]string, len(results))
	index := make(map[string]int, len(results))
	for i, r := range results {
		ids[i] = r.MarketID
		index[r.MarketID] = i
		results[i].Payouts = []domain.BetPayout{}
	}
	prow, err := s.pool.Query(ctx, `
		SELECT p.market_id, p.bet_id, p.participant_id, p.outcome_id, p.stake, p.payout, p.status
		FROM settlement_payouts p JOIN bets b ON b.id = p.bet_id
		WHERE p.market_id = ANY($1)
		ORDER BY p.market_id, b.seq`, ids)
	if err != nil {
		return nil, fmt.Errorf("load payouts: %w", err)
	}
	defer prow.Close()
	for prow.Next() {
		var marketID, status string
		var p domain.BetPayout
		if err := prow.Scan(&marketID, &p.BetID, &p.ParticipantID, &p.OutcomeID, &p.Stake, &p.Payout, &status); err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		p.Status = domain.BetStatus(status)
		i := index[marketID]
		results[i].Payouts = append(results[i].Payouts, p)
	}
	return results, prow.Err()
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
