package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

type stubSignalStore struct {
	factors domain.ExternalFactors
	err     error
}

func (s stubSignalStore) Get(context.Context, string) (domain.ExternalFactors, error) {
	return s.factors, s.err
}

func (s stubSignalStore) Set(context.Context, string, domain.ExternalFactors) error { return nil }

func TestNewSignalSource(t *testing.T) {
	src, err := NewSignalSource("", nil, 0)
	require.NoError(t, err)
	assert.IsType(t, NoSignals{}, src)

	_, err = NewSignalSource(SourceRedis, nil, 0)
	assert.Error(t, err)

	_, err = NewSignalSource("carrier-pigeon", nil, 0)
	assert.Error(t, err)
}

func TestRandomSource_WithinRangesAndAccepted(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	src := NewRandomSource(42)
	m := market(time.Hour, 6, 4)

	for i := 0; i < 200; i++ {
		f, err := src.Signals(ctx, m)
		require.NoError(t, err)
		require.NotNil(t, f.Sentiment)
		require.NotNil(t, f.NewsImpact)
		assert.GreaterOrEqual(t, *f.Sentiment, -1.0)
		assert.LessOrEqual(t, *f.Sentiment, 1.0)

		_, err = e.RecomputeOdds(m, f, now)
		require.NoError(t, err)
	}

	a, _ := NewRandomSource(7).Signals(ctx, m)
	b, _ := NewRandomSource(7).Signals(ctx, m)
	assert.Equal(t, *a.Sentiment, *b.Sentiment)
}

func TestStoreSource(t *testing.T) {
	ctx := context.Background()
	want := domain.ExternalFactors{Signals: domain.Signals{Sentiment: ptr(0.5)}}

	got, err := NewStoreSource(stubSignalStore{factors: want}).Signals(ctx, market(time.Hour, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	boom := errors.New("connection refused")
	_, err = NewStoreSource(stubSignalStore{err: boom}).Signals(ctx, market(time.Hour, 1, 1))
	assert.ErrorIs(t, err, boom)
}
