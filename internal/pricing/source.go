package pricing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// Signal source kinds accepted by NewSignalSource.
const (
	SourceNone   = "none"
	SourceRedis  = "redis"
	SourceRandom = "random"
)

// SignalSource supplies the external factors for one recomputation.
type SignalSource interface {
	Signals(ctx context.Context, market domain.Market) (domain.ExternalFactors, error)
}

// NoSignals always returns empty factors, which makes the external term zero.
type NoSignals struct{}

func (NoSignals) Signals(context.Context, domain.Market) (domain.ExternalFactors, error) {
	return domain.ExternalFactors{}, nil
}

// StoreSource reads whatever external feeds last wrote for the market.
type StoreSource struct {
	store domain.SignalStore
}

// NewStoreSource wraps a SignalStore.
func NewStoreSource(store domain.SignalStore) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Signals(ctx context.Context, market domain.Market) (domain.ExternalFactors, error) {
	f, err := s.store.Get(ctx, market.ID)
	if err != nil {
		return domain.ExternalFactors{}, fmt.Errorf("pricing: signals for %s: %w", market.ID, err)
	}
	return f, nil
}

// RandomSource draws uniform market-wide sentiment and news impact in
// [-1, 1]. It stands in for a real feed in demos and load tests.
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource seeds a RandomSource. Equal seeds give equal sequences.
func NewRandomSource(seed uint64) *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomSource) Signals(context.Context, domain.Market) (domain.ExternalFactors, error) {
	s.mu.Lock()
	sentiment := s.rng.Float64()*2 - 1
	news := s.rng.Float64()*2 - 1
	s.mu.Unlock()
	return domain.ExternalFactors{Signals: domain.Signals{Sentiment: &sentiment, NewsImpact: &news}}, nil
}

// NewSignalSource builds the source named by kind. store is only used by
// SourceRedis.
func NewSignalSource(kind string, store domain.SignalStore, seed uint64) (SignalSource, error) {
	switch kind {
	case "", SourceNone:
		return NoSignals{}, nil
	case SourceRedis:
		if store == nil {
			return nil, fmt.Errorf("pricing: signal source %q needs a signal store", kind)
		}
		return NewStoreSource(store), nil
	case SourceRandom:
		return NewRandomSource(seed), nil
	default:
		return nil, fmt.Errorf("pricing: unknown signal source %q", kind)
	}
}
