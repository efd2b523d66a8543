package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// SignalStore implements domain.SignalStore on one hash per market, so
// sentiment or news feeds can update a single field with HSET.
//
// Key schema:
//
//	signals:{marketID} - hash with fields
//	    sentiment | news_impact | social_volume                 market-wide
//	    {outcomeID}.sentiment | .news_impact | .social_volume   per outcome
type SignalStore struct {
	rdb *redis.Client
}

// NewSignalStore creates a SignalStore backed by the given Client.
func NewSignalStore(c *Client) *SignalStore {
	return &SignalStore{rdb: c.Underlying()}
}

func signalsKey(marketID string) string { return "signals:" + marketID }

const (
	fieldSentiment    = "sentiment"
	fieldNewsImpact   = "news_impact"
	fieldSocialVolume = "social_volume"
)

// Get returns the signals stored for marketID. A market without signals
// yields empty factors, not an error.
func (ss *SignalStore) Get(ctx context.Context, marketID string) (domain.ExternalFactors, error) {
	vals, err := ss.rdb.HGetAll(ctx, signalsKey(marketID)).Result()
	if err != nil {
		return domain.ExternalFactors{}, fmt.Errorf("redis: get signals %s: %w", marketID, err)
	}

	var f domain.ExternalFactors
	for field, raw := range vals {
		outcome, name, perOutcome := strings.Cut(field, ".")
		if !perOutcome {
			name = field
		}
		v, known, err := parseSignal(name, raw)
		if err != nil {
			return domain.ExternalFactors{}, fmt.Errorf("redis: parse signal %s.%s: %w", marketID, field, err)
		}
		if !known {
			continue
		}
		if !perOutcome {
			assign(&f.Signals, name, v)
			continue
		}
		if f.PerOutcome == nil {
			f.PerOutcome = make(map[string]domain.Signals)
		}
		s := f.PerOutcome[outcome]
		assign(&s, name, v)
		f.PerOutcome[outcome] = s
	}
	return f, nil
}

// Set replaces every signal stored for marketID.
func (ss *SignalStore) Set(ctx context.Context, marketID string, factors domain.ExternalFactors) error {
	fields := make(map[string]any)
	put(fields, "", factors.Signals)
	for outcome, s := range factors.PerOutcome {
		put(fields, outcome+".", s)
	}

	key := signalsKey(marketID)
	pipe := ss.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set signals %s: %w", marketID, err)
	}
	return nil
}

// parseSignal ignores field names it does not know so feeds can keep extra
// fields alongside.
func parseSignal(name, raw string) (float64, bool, error) {
	switch name {
	case fieldSentiment, fieldNewsImpact, fieldSocialVolume:
	default:
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, true, err
}

func assign(s *domain.Signals, name string, v float64) {
	switch name {
	case fieldSentiment:
		s.Sentiment = &v
	case fieldNewsImpact:
		s.NewsImpact = &v
	case fieldSocialVolume:
		s.SocialVolume = &v
	}
}

func put(fields map[string]any, prefix string, s domain.Signals) {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	if s.Sentiment != nil {
		fields[prefix+fieldSentiment] = format(*s.Sentiment)
	}
	if s.NewsImpact != nil {
		fields[prefix+fieldNewsImpact] = format(*s.NewsImpact)
	}
	if s.SocialVolume != nil {
		fields[prefix+fieldSocialVolume] = format(*s.SocialVolume)
	}
}

var _ domain.SignalStore = (*SignalStore)(nil)
