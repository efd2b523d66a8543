package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

type recordingSender struct {
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket() domain.Market {
	return domain.Market{
		ID:       "m1",
		Question: "First blood before minute five?",
		Outcomes: []domain.Outcome{{ID: "yes", Name: "Yes"}, {ID: "no", Name: "No"}},
	}
}

func TestNotifier_FilterAlwaysPassesNoWinners(t *testing.T) {
	ctx := context.Background()
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{EventMarketCancelled}, discardLogger())

	resolved := domain.SettlementResult{
		Kind:             domain.SettlementResolved,
		WinningOutcomeID: "yes",
		TotalPool:        decimal.NewFromInt(10),
		CreatorCut:       decimal.RequireFromString("0.5"),
		Unclaimed:        decimal.Zero,
		WinnerCount:      3,
	}
	require.NoError(t, n.NotifySettlement(ctx, testMarket(), resolved))
	assert.Empty(t, rec.titles)

	unclaimed := resolved
	unclaimed.Unclaimed = decimal.RequireFromString("9.5")
	unclaimed.WinnerCount = 0
	require.NoError(t, n.NotifySettlement(ctx, testMarket(), unclaimed))

	cancelled := domain.SettlementResult{Kind: domain.SettlementCancelled, TotalPool: decimal.NewFromInt(4)}
	require.NoError(t, n.NotifySettlement(ctx, testMarket(), cancelled))

	assert.Equal(t, []string{"Market resolved with no winners", "Market cancelled"}, rec.titles)
}

func TestNotifier_CollectsSenderErrors(t *testing.T) {
	boom := errors.New("webhook down")
	ok := &recordingSender{}
	bad := &recordingSender{err: boom}
	n := NewNotifier([]Sender{bad, ok}, nil, discardLogger())

	err := n.Notify(context.Background(), EventMarketResolved, "t", "m")
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.titles, 1, "a failing sender must not block the rest")
}

func TestDiscordSender_PostsContent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Market resolved", "pool 10"))
	assert.Equal(t, "**Market resolved**\npool 10", got["content"])
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, "/bottok/sendMessage", path)
}
