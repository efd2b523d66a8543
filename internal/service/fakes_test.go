package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory MarketStore, BetStore, SettlementStore and
// AuditStore.
type memStore struct {
	mu          sync.Mutex
	markets     map[string]domain.Market
	bets        []domain.Bet
	settlements map[string]domain.SettlementResult
	audit       []domain.AuditEntry
	oddsWrites  int
	saveErr     error
	// afterListBets runs once the ledger has been read, outside the lock.
	afterListBets func()
}

func newMemStore() *memStore {
	return &memStore{
		markets:     make(map[string]domain.Market),
		settlements: make(map[string]domain.SettlementResult),
	}
}

func (s *memStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.markets[m.ID] = m.Clone()
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *memStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.IsActive() {
			out = append(out, m.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Market) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *memStore) ListByCreator(_ context.Context, creatorID string, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.CreatorID == creatorID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *memStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

func (s *memStore) UpdateOdds(_ context.Context, marketID string, odds map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	if !m.IsActive() {
		return domain.ErrMarketNotActive
	}
	for i, o := range m.Outcomes {
		if v, ok := odds[o.ID]; ok {
			m.Outcomes[i].Odds = v
		}
	}
	s.markets[marketID] = m
	s.oddsWrites++
	return nil
}

func (s *memStore) Place(_ context.Context, bet domain.Bet) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[bet.MarketID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if !m.IsActive() {
		return domain.Market{}, domain.ErrMarketNotActive
	}
	m = m.Clone()
	idx := slices.IndexFunc(m.Outcomes, func(o domain.Outcome) bool { return o.ID == bet.OutcomeID })
	if idx < 0 {
		return domain.Market{}, domain.NewValidationError("outcome_id", "unknown outcome")
	}
	seen := slices.ContainsFunc(s.bets, func(b domain.Bet) bool {
		return b.MarketID == bet.MarketID && b.ParticipantID == bet.ParticipantID
	})
	if !seen {
		m.Participants++
	}
	m.Outcomes[idx].TotalStaked = m.Outcomes[idx].TotalStaked.Add(bet.Amount)
	m.Volume = m.Volume.Add(bet.Amount)
	s.markets[m.ID] = m
	s.bets = append(s.bets, bet)
	return m.Clone(), nil
}

func (s *memStore) ListByMarket(_ context.Context, marketID string) ([]domain.Bet, error) {
	s.mu.Lock()
	var out []domain.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID {
			out = append(out, b)
		}
	}
	hook := s.afterListBets
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) ListByParticipant(_ context.Context, participantID string, _ domain.ListOpts) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, b := range s.bets {
		if b.ParticipantID == participantID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) Leaderboard(_ context.Context, limit int) ([]domain.ParticipantStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := map[string]*domain.ParticipantStats{}
	streak := map[string]int{}
	marketWins := map[string]decimal.Decimal{}
	var order []string
	for _, b := range s.bets {
		p, ok := byID[b.ParticipantID]
		if !ok {
			p = &domain.ParticipantStats{ParticipantID: b.ParticipantID, TotalStaked: decimal.Zero, TotalWinnings: decimal.Zero, BestMarketWinnings: decimal.Zero}
			byID[b.ParticipantID] = p
			order = append(order, b.ParticipantID)
		}
		p.TotalBets++
		p.TotalStaked = p.TotalStaked.Add(b.Amount)
		switch b.Status {
		case domain.BetStatusWon:
			p.Wins++
			p.TotalWinnings = p.TotalWinnings.Add(b.PotentialPayout)
			streak[b.ParticipantID]++
			p.LongestWinStreak = max(p.LongestWinStreak, streak[b.ParticipantID])
			key := b.ParticipantID + "/" + b.MarketID
			won, ok := marketWins[key]
			if !ok {
				won = decimal.Zero
			}
			marketWins[key] = won.Add(b.PotentialPayout)
			if marketWins[key].GreaterThan(p.BestMarketWinnings) {
				p.BestMarketWinnings = marketWins[key]
			}
		case domain.BetStatusLost:
			streak[b.ParticipantID] = 0
		}
	}
	for _, m := range s.markets {
		if p, ok := byID[m.CreatorID]; ok && m.Status == domain.MarketStatusResolved {
			p.MarketsResolved++
		}
	}
	slices.SortStableFunc(order, func(a, b string) int {
		return byID[b].TotalWinnings.Cmp(byID[a].TotalWinnings)
	})
	out := []domain.ParticipantStats{}
	for i, id := range order {
		if i == limit {
			break
		}
		p := *byID[id]
		p.Rank = i + 1
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, st domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cur, ok := s.markets[st.Market.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !cur.IsActive() {
		return &domain.AlreadyResolvedError{MarketID: cur.ID, Status: cur.Status}
	}
	if !cur.Volume.Equal(st.Result.TotalPool) {
		return domain.ErrLedgerChanged
	}
	s.markets[st.Market.ID] = st.Market.Clone()
	for _, b := range st.Bets {
		for i := range s.bets {
			if s.bets[i].ID == b.ID {
				s.bets[i] = b
			}
		}
	}
	s.settlements[st.Market.ID] = st.Result
	return nil
}

func (s *memStore) GetByMarket(_ context.Context, marketID string) (domain.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.settlements[marketID]
	if !ok {
		return domain.SettlementResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memStore) ListBefore(_ context.Context, before time.Time) ([]domain.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SettlementResult
	for _, r := range s.settlements {
		if r.SettledAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) CreatorAnalytics(_ context.Context, creatorID string) (domain.CreatorAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := domain.CreatorAnalytics{CreatorID: creatorID}
	for _, m := range s.markets {
		if m.CreatorID != creatorID {
			continue
		}
		a.MarketsCreated++
		a.TotalVolume = a.TotalVolume.Add(m.Volume)
		if r, ok := s.settlements[m.ID]; ok {
			a.TotalRevenue = a.TotalRevenue.Add(r.CreatorCut)
		}
	}
	return a, nil
}

func (s *memStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{ID: int64(len(s.audit) + 1), Event: event, Detail: detail})
	return nil
}

func (s *memStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit), nil
}

func (s *memStore) auditEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.audit {
		out = append(out, e.Event)
	}
	return out
}

// recordingBus captures everything published.
type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) events(channel string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, p := range b.published[channel] {
		var e Event
		_ = json.Unmarshal(p, &e)
		out = append(out, e)
	}
	return out
}

func (b *recordingBus) streamLen(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}

// mapCache is an in-memory MarketCache.
type mapCache struct {
	mu          sync.Mutex
	m           map[string]domain.Market
	invalidated []string
}

func newMapCache() *mapCache { return &mapCache{m: map[string]domain.Market{}} }

func (c *mapCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[m.ID] = m.Clone()
	return nil
}

func (c *mapCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type fakeArchiver struct {
	archived []string
}

func (a *fakeArchiver) ArchiveSettlement(_ context.Context, r domain.SettlementResult) (string, error) {
	a.archived = append(a.archived, r.MarketID)
	return "archive/settlements/" + r.MarketID + ".jsonl", nil
}

func (a *fakeArchiver) ArchiveSettlements(context.Context, time.Time) (int64, error) {
	return int64(len(a.archived)), nil
}

type fakeNotifier struct {
	results []domain.SettlementResult
}

func (n *fakeNotifier) NotifySettlement(_ context.Context, _ domain.Market, r domain.SettlementResult) error {
	n.results = append(n.results, r)
	return nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// seedMarket stores an active market created at testNow with outcomes yes/no.
func seedMarket(s *memStore, id string, cut int64) domain.Market {
	m := domain.Market{
		ID:        id,
		CreatorID: "creator-1",
		Question:  "Will it rain?",
		Status:    domain.MarketStatusActive,
		Outcomes: []domain.Outcome{
			{ID: "yes", Name: "Yes", Odds: domain.NeutralOdds, TotalStaked: decimal.Zero},
			{ID: "no", Name: "No", Odds: domain.NeutralOdds, TotalStaked: decimal.Zero},
		},
		CreatorCutPercentage: decimal.NewFromInt(cut),
		Volume:               decimal.Zero,
		CreatedAt:            testNow,
		UpdatedAt:            testNow,
	}
	s.markets[id] = m
	return m
}

func seedBet(s *memStore, marketID, id, participant, outcome, amount string) {
	b := domain.Bet{
		ID: id, MarketID: marketID, ParticipantID: participant, OutcomeID: outcome,
		Amount: dec(amount), PlacedAt: testNow, Status: domain.BetStatusPending,
	}
	if _, err := s.Place(context.Background(), b); err != nil {
		panic(err)
	}
}
