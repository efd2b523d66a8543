package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streampredict/internal/domain"
	"github.com/alanyoungcy/streampredict/internal/lock"
	"github.com/alanyoungcy/streampredict/internal/payout"
	"github.com/alanyoungcy/streampredict/internal/settlement"
)

type settlementFixture struct {
	store    *memStore
	cache    *mapCache
	bus      *recordingBus
	locks    *lock.Keyed
	archiver *fakeArchiver
	notifier *fakeNotifier
	svc      *SettlementService
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	engine, err := settlement.NewEngine(settlement.DefaultPrecision)
	require.NoError(t, err)

	f := &settlementFixture{
		store:    newMemStore(),
		cache:    newMapCache(),
		bus:      newRecordingBus(),
		locks:    lock.NewKeyed(),
		archiver: &fakeArchiver{},
		notifier: &fakeNotifier{},
	}
	f.svc = NewSettlementService(engine, f.store, f.store, f.store, f.locks, f.cache, f.bus, f.store,
		f.archiver, f.notifier, SettlementConfig{LockTTL: time.Minute}, discardLogger())
	f.svc.now = func() time.Time { return testNow.Add(time.Hour) }
	return f
}

// seedExample reproduces the reference market: 10 staked, 6 on yes across
// three bets, 4 on no, 5% creator cut.
func (f *settlementFixture) seedExample() {
	seedMarket(f.store, "m-1", 5)
	seedBet(f.store, "m-1", "b1", "alice", "yes", "2")
	seedBet(f.store, "m-1", "b2", "bob", "yes", "2")
	seedBet(f.store, "m-1", "b3", "carol", "yes", "2")
	seedBet(f.store, "m-1", "b4", "dave", "no", "2")
	seedBet(f.store, "m-1", "b5", "erin", "no", "2")
}

func TestResolve(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedExample()

	r, err := f.svc.Resolve(context.Background(), "m-1", "yes")
	require.NoError(t, err)

	assert.Equal(t, domain.SettlementResolved, r.Kind)
	assert.Equal(t, "0.5", r.CreatorCut.String())
	assert.Equal(t, "9.5", r.PayoutPool.String())
	assert.Equal(t, 3, r.WinnerCount)
	assert.True(t, r.Balanced())
	assert.Equal(t, "3.166666666666666668", r.Payouts[0].Payout.String())
	assert.Equal(t, "b1", r.RemainderBetID)

	m, _ := f.store.GetByID(context.Background(), "m-1")
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, "yes", m.WinningOutcomeID)

	bets, _ := f.store.ListByMarket(context.Background(), "m-1")
	assert.Equal(t, domain.BetStatusWon, bets[0].Status)
	assert.Equal(t, domain.BetStatusLost, bets[4].Status)

	stored, err := f.svc.GetSettlement(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, stored.TotalPool.Equal(r.TotalPool))

	assert.Equal(t, []string{"m-1"}, f.cache.invalidated)
	events := f.bus.events(ChannelSettlements)
	require.Len(t, events, 1)
	assert.Equal(t, EventMarketResolved, events[0].Event)
	assert.Equal(t, 1, f.bus.streamLen(StreamSettlements))
	assert.Equal(t, []string{"m-1"}, f.archiver.archived)
	assert.Contains(t, f.store.auditEvents(), EventMarketResolved)
	require.Len(t, f.notifier.results, 1)

	// participant ids are not addresses, so no transfers are planned
	assert.Zero(t, f.bus.streamLen(StreamPayouts))
	assert.Zero(t, f.locks.Len())
}

func TestResolve_PlansPayoutsForAddresses(t *testing.T) {
	f := newSettlementFixture(t)
	m := seedMarket(f.store, "m-1", 10)
	m.CreatorID = "0x00000000000000000000000000000000000000c1"
	f.store.markets["m-1"] = m
	seedBet(f.store, "m-1", "b1", "0x00000000000000000000000000000000000000a1", "yes", "3")
	seedBet(f.store, "m-1", "b2", "0x00000000000000000000000000000000000000b2", "no", "1")

	_, err := f.svc.Resolve(context.Background(), "m-1", "yes")
	require.NoError(t, err)

	require.Equal(t, 1, f.bus.streamLen(StreamPayouts))
	var evt struct {
		Event string      `json:"event"`
		Data  payout.Plan `json:"data"`
	}
	require.NoError(t, json.Unmarshal(f.bus.streams[StreamPayouts][0], &evt))
	assert.Equal(t, EventPayoutPlanned, evt.Event)
	require.Len(t, evt.Data.Transfers, 2)
	assert.Equal(t, payout.KindWinnings, evt.Data.Transfers[0].Kind)
	assert.Equal(t, "3600000000000000000", evt.Data.Transfers[0].AmountWei.String())
	assert.Equal(t, payout.KindCreatorFee, evt.Data.Transfers[1].Kind)
	assert.Equal(t, "400000000000000000", evt.Data.Transfers[1].AmountWei.String())
}

func TestResolve_NoWinners(t *testing.T) {
	f := newSettlementFixture(t)
	seedMarket(f.store, "m-1", 5)
	seedBet(f.store, "m-1", "b1", "alice", "no", "4")

	r, err := f.svc.Resolve(context.Background(), "m-1", "yes")
	var nw *domain.NoWinnersError
	require.ErrorAs(t, err, &nw)
	assert.Equal(t, "3.8", nw.Unclaimed.String())

	assert.Equal(t, "3.8", r.Unclaimed.String())
	assert.True(t, r.Balanced())

	m, _ := f.store.GetByID(context.Background(), "m-1")
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.Len(t, f.notifier.results, 1)
}

func TestResolve_Rejections(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedExample()
	ctx := context.Background()

	_, err := f.svc.Resolve(ctx, "m-1", "maybe")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Resolve(ctx, "missing", "yes")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Resolve(ctx, "m-1", "yes")
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, "m-1", "no")
	var already *domain.AlreadyResolvedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, domain.MarketStatusResolved, already.Status)

	_, err = f.svc.Cancel(ctx, "m-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolve_LockHeld(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedExample()

	unlock, err := f.locks.Acquire(context.Background(), "settle:m-1", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.Resolve(context.Background(), "m-1", "yes")
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	m, _ := f.store.GetByID(context.Background(), "m-1")
	assert.True(t, m.IsActive())
}

func TestResolve_ConcurrentCallsSettleOnce(t *testing.T) {
	for run := 0; run < 50; run++ {
		f := newSettlementFixture(t)
		f.seedExample()

		winners := []string{"yes", "no"}
		errs := make([]error, len(winners))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, winner := range winners {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[i] = f.svc.Resolve(context.Background(), "m-1", winner)
			}()
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrAlreadyResolved),
				"run %d: unexpected error %v", run, err)
		}
		require.Equal(t, 1, succeeded, "run %d", run)

		m, _ := f.store.GetByID(context.Background(), "m-1")
		assert.Equal(t, domain.MarketStatusResolved, m.Status)
		assert.Len(t, f.bus.events(ChannelSettlements), 1)
		assert.Zero(t, f.locks.Len())
	}
}

func TestResolve_RecomputesWhenBetLandsMidSettlement(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedExample()

	var once sync.Once
	f.store.afterListBets = func() {
		once.Do(func() {
			seedBet(f.store, "m-1", "b6", "frank", "no", "2")
		})
	}

	r, err := f.svc.Resolve(context.Background(), "m-1", "yes")
	require.NoError(t, err)

	assert.Equal(t, "12", r.TotalPool.String())
	require.Len(t, r.Payouts, 6)
	assert.True(t, r.Balanced())

	bets, _ := f.store.ListByMarket(context.Background(), "m-1")
	for _, b := range bets {
		assert.NotEqual(t, domain.BetStatusPending, b.Status, "bet %s left pending", b.ID)
	}
	assert.Len(t, f.bus.events(ChannelSettlements), 1)
}

func TestResolve_GivesUpWhenLedgerKeepsChanging(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedExample()

	n := 0
	f.store.afterListBets = func() {
		n++
		seedBet(f.store, "m-1", fmt.Sprintf("late-%d", n), "frank", "no", "1")
	}

	_, err := f.svc.Resolve(context.Background(), "m-1", "yes")
	assert.ErrorIs(t, err, domain.ErrLedgerChanged)
	assert.Equal(t, maxSettleAttempts, n)

	m, _ := f.store.GetByID(context.Background(), "m-1")
	assert.True(t, m.IsActive())
	assert.Empty(t, f.bus.events(ChannelSettlements))
	assert.Empty(t, f.store.settlements)
	assert.Zero(t, f.locks.Len())
}

func TestResolve_SaveFailureHasNoSideEffects(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedExample()
	f.store.saveErr = errors.New("connection reset")

	_, err := f.svc.Resolve(context.Background(), "m-1", "yes")
	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, f.bus.events(ChannelSettlements))
	assert.Empty(t, f.archiver.archived)
	assert.Empty(t, f.notifier.results)
	assert.Zero(t, f.locks.Len())
}

func TestCancel(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedExample()

	r, err := f.svc.Cancel(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementCancelled, r.Kind)
	assert.True(t, r.CreatorCut.IsZero())
	assert.True(t, r.Balanced())
	for _, p := range r.Payouts {
		assert.True(t, p.Payout.Equal(p.Stake))
		assert.Equal(t, domain.BetStatusRefunded, p.Status)
	}

	m, _ := f.store.GetByID(context.Background(), "m-1")
	assert.Equal(t, domain.MarketStatusCancelled, m.Status)

	events := f.bus.events(ChannelSettlements)
	require.Len(t, events, 1)
	assert.Equal(t, EventMarketCancelled, events[0].Event)
}

func TestArchiveBefore(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedExample()
	_, err := f.svc.Resolve(context.Background(), "m-1", "yes")
	require.NoError(t, err)

	n, err := f.svc.ArchiveBefore(context.Background(), testNow.Add(48*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
