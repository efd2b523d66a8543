package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// MarketStore implements domain.MarketStore. Outcomes live in their own
// table and are always loaded in creation order.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, creator_id, question, category, status, creator_cut_percentage,
	participants, volume, COALESCE(winning_outcome_id, ''), closes_at, resolved_at,
	created_at, updated_at`

// Create inserts a market and its outcomes in one transaction.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		const insertMarket = `
			INSERT INTO markets (
				id, creator_id, question, category, status, creator_cut_percentage,
				participants, volume, closes_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
		if _, err := tx.Exec(ctx, insertMarket,
			m.ID, m.CreatorID, m.Question, m.Category, string(m.Status), m.CreatorCutPercentage,
			m.Participants, m.Volume, m.ClosesAt, m.CreatedAt,
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		const insertOutcome = `
			INSERT INTO outcomes (market_id, id, position, name, odds, total_staked)
			VALUES ($1, $2, $3, $4, $5, $6)`
		for i, o := range m.Outcomes {
			batch.Queue(insertOutcome, m.ID, o.ID, i, o.Name, o.Odds, o.TotalStaked)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID returns the market with its outcomes or domain.ErrNotFound.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	m, err := getMarket(ctx, s.pool, id, false)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, err
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListActive returns active markets, newest first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := pageClause(
		`SELECT `+marketCols+` FROM markets WHERE status = 'active' ORDER BY created_at DESC, id`,
		nil, opts.Limit, opts.Offset)
	markets, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	return markets, nil
}

// ListByCreator returns a creator's markets, newest first.
func (s *MarketStore) ListByCreator(ctx context.Context, creatorID string, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := pageClause(
		`SELECT `+marketCols+` FROM markets WHERE creator_id = $1 ORDER BY created_at DESC, id`,
		[]any{creatorID}, opts.Limit, opts.Offset)
	markets, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets for creator %s: %w", creatorID, err)
	}
	return markets, nil
}

// Count returns the number of markets in any state.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// UpdateOdds writes quoted odds while the market is still active. Outcomes
// missing from odds keep their value. A market that has left the Active state
// yields domain.ErrMarketNotActive.
func (s *MarketStore) UpdateOdds(ctx context.Context, marketID string, odds map[string]float64) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM markets WHERE id = $1 FOR SHARE`, marketID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if domain.MarketStatus(status) != domain.MarketStatusActive {
			return domain.ErrMarketNotActive
		}

		batch := &pgx.Batch{}
		for outcomeID, v := range odds {
			batch.Queue(`UPDATE outcomes SET odds = $3 WHERE market_id = $1 AND id = $2`, marketID, outcomeID, v)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("postgres: update odds %s: %w", marketID, err)
	}
	return nil
}

func (s *MarketStore) list(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	markets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Market, error) {
		return scanMarket(row)
	})
	if err != nil {
		return nil, err
	}
	if err := attachOutcomes(ctx, s.pool, markets); err != nil {
		return nil, err
	}
	return markets, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.CreatorID, &m.Question, &m.Category, &status, &m.CreatorCutPercentage,
		&m.Participants, &m.Volume, &m.WinningOutcomeID, &m.ClosesAt, &m.ResolvedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// getMarket loads one market and its outcomes through q. forUpdate locks the
// market row for the rest of the transaction.
func getMarket(ctx context.Context, q querier, id string, forUpdate bool) (domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, err
	}
	markets := []domain.Market{m}
	if err := attachOutcomes(ctx, q, markets); err != nil {
		return domain.Market{}, err
	}
	return markets[0], nil
}

// attachOutcomes fills Outcomes for every market with a single query.
func attachOutcomes(ctx context.Context, q querier, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	ids := make([]string, len(markets))
	index := make(map[string]int, len(markets))
	for i, m := range markets {
		ids[i] = m.ID
		index[m.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT market_id, id, name, odds, total_staked
		FROM outcomes WHERE market_id = ANY($1)
		ORDER BY market_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var marketID string
		var o domain.Outcome
		if err := rows.Scan(&marketID, &o.ID, &o.Name, &o.Odds, &o.TotalStaked); err != nil {
			return fmt.Errorf("scan outcome: %w", err)
		}
		i := index[marketID]
		markets[i].Outcomes = append(markets[i].Outcomes, o)
	}
	return rows.Err()
}

var _ domain.MarketStore = (*MarketStore)(nil)
