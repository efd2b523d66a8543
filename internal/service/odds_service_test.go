package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streampredict/internal/domain"
	"github.com/alanyoungcy/streampredict/internal/pricing"
)

func newOddsService(t *testing.T, store *memStore, cache *mapCache, bus *recordingBus, source pricing.SignalSource) *OddsService {
	t.Helper()
	engine, err := pricing.NewEngine(pricing.DefaultConfig())
	require.NoError(t, err)
	var c domain.MarketCache
	if cache != nil {
		c = cache
	}
	var b domain.SignalBus
	if bus != nil {
		b = bus
	}
	svc := NewOddsService(engine, source, store, c, b, OddsConfig{Interval: 10 * time.Millisecond, MaxConcurrency: 2}, discardLogger())
	svc.now = func() time.Time { return testNow }
	return svc
}

func stake(s *memStore, marketID string, yes, no string) {
	if yes != "0" {
		seedBet(s, marketID, marketID+"-y", "alice", "yes", yes)
	}
	if no != "0" {
		seedBet(s, marketID, marketID+"-n", "bob", "no", no)
	}
}

func (s *memStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oddsWrites
}

func odds(m domain.Market, id string) float64 {
	o, _ := m.Outcome(id)
	return o.Odds
}

func TestRepriceWith_PersistsAndPublishes(t *testing.T) {
	store := newMemStore()
	seedMarket(store, "m-1", 5)
	stake(store, "m-1", "7", "3")
	cache := newMapCache()
	bus := newRecordingBus()
	svc := newOddsService(t, store, cache, bus, nil)

	m, _ := store.GetByID(context.Background(), "m-1")
	_ = cache.Set(context.Background(), m)

	updated, err := svc.RepriceWith(context.Background(), m, domain.ExternalFactors{})
	require.NoError(t, err)
	assert.InDelta(t, 1.6, odds(updated, "yes"), 1e-9)
	assert.InDelta(t, 1.1, odds(updated, "no"), 1e-9)

	stored, _ := store.GetByID(context.Background(), "m-1")
	assert.InDelta(t, 1.6, odds(stored, "yes"), 1e-9)
	assert.Equal(t, []string{"m-1"}, cache.invalidated)

	events := bus.events(ChannelOdds)
	require.Len(t, events, 1)
	assert.Equal(t, "m-1", events[0].MarketID)
	assert.Equal(t, testNow, events[0].Timestamp)
}

func TestRepriceWith_UnchangedWritesNothing(t *testing.T) {
	store := newMemStore()
	m := seedMarket(store, "m-1", 5)
	bus := newRecordingBus()
	svc := newOddsService(t, store, nil, bus, nil)

	updated, err := svc.RepriceWith(context.Background(), m, domain.ExternalFactors{})
	require.NoError(t, err)
	assert.Equal(t, domain.NeutralOdds, odds(updated, "yes"))
	assert.Zero(t, store.writes())
	assert.Empty(t, bus.events(ChannelOdds))
}

func TestRepriceWith_MarketSettledMeanwhile(t *testing.T) {
	store := newMemStore()
	seedMarket(store, "m-1", 5)
	stake(store, "m-1", "7", "3")
	active, _ := store.GetByID(context.Background(), "m-1")

	resolved := active.Clone()
	resolved.Status = domain.MarketStatusResolved
	store.markets["m-1"] = resolved

	bus := newRecordingBus()
	svc := newOddsService(t, store, nil, bus, nil)

	got, err := svc.RepriceWith(context.Background(), active, domain.ExternalFactors{})
	require.NoError(t, err)
	assert.Equal(t, domain.NeutralOdds, odds(got, "yes"))
	assert.Empty(t, bus.events(ChannelOdds))
}

func TestRepriceWith_InvalidSignals(t *testing.T) {
	store := newMemStore()
	seedMarket(store, "m-1", 5)
	stake(store, "m-1", "7", "3")
	m, _ := store.GetByID(context.Background(), "m-1")
	svc := newOddsService(t, store, nil, nil, nil)

	bad := 2.0
	_, err := svc.RepriceWith(context.Background(), m, domain.ExternalFactors{Signals: domain.Signals{Sentiment: &bad}})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, store.writes())
}

func TestRepriceMarket_ExplicitFactors(t *testing.T) {
	store := newMemStore()
	seedMarket(store, "m-1", 5)
	stake(store, "m-1", "7", "3")
	svc := newOddsService(t, store, nil, nil, nil)

	positive := 1.0
	m, err := svc.RepriceMarket(context.Background(), "m-1", &domain.ExternalFactors{
		Signals: domain.Signals{Sentiment: &positive},
	})
	require.NoError(t, err)
	// 0.7 + 0.1 momentum + 0.05 sentiment
	assert.InDelta(t, 1.7, odds(m, "yes"), 1e-9)
	assert.InDelta(t, 1.1, odds(m, "no"), 1e-9)

	_, err = svc.RepriceMarket(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type failingSource struct{}

func (failingSource) Signals(context.Context, domain.Market) (domain.ExternalFactors, error) {
	return domain.ExternalFactors{}, errors.New("feed down")
}

func TestReprice_SourceError(t *testing.T) {
	store := newMemStore()
	m := seedMarket(store, "m-1", 5)
	svc := newOddsService(t, store, nil, nil, failingSource{})

	_, err := svc.Reprice(context.Background(), m)
	assert.ErrorContains(t, err, "feed down")
}

func TestRecomputeAll(t *testing.T) {
	store := newMemStore()
	seedMarket(store, "m-1", 5)
	stake(store, "m-1", "7", "3")
	seedMarket(store, "m-2", 5)
	stake(store, "m-2", "5", "5")
	seedMarket(store, "m-empty", 5)

	broken := seedMarket(store, "m-broken", 5)
	broken.Outcomes = broken.Outcomes[:1]
	store.markets["m-broken"] = broken

	done := seedMarket(store, "m-done", 5)
	done.Status = domain.MarketStatusResolved
	store.markets["m-done"] = done

	bus := newRecordingBus()
	svc := newOddsService(t, store, nil, bus, nil)

	changed, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assert.Equal(t, 2, store.writes())
	assert.Len(t, bus.events(ChannelOdds), 2)

	// a second pass with nothing new moves nothing
	changed, err = svc.RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestOddsServiceRun_StopsOnCancel(t *testing.T) {
	store := newMemStore()
	seedMarket(store, "m-1", 5)
	stake(store, "m-1", "7", "3")
	svc := newOddsService(t, store, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return store.writes() > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
