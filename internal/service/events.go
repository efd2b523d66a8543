package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// Signal bus channels and streams written by the services.
const (
	ChannelOdds        = "odds"
	ChannelSettlements = "settlements"

	StreamOdds        = "stream:odds"
	StreamSettlements = "stream:settlements"
	StreamPayouts     = "stream:payouts"
)

// Event names carried in Event.Event.
const (
	EventOddsUpdated     = "odds_updated"
	EventMarketResolved  = "market_resolved"
	EventMarketCancelled = "market_cancelled"
	EventPayoutPlanned   = "payout_planned"
)

// Event is the envelope published on the signal bus and forwarded to
// WebSocket clients.
type Event struct {
	Event     string    `json:"event"`
	MarketID  string    `json:"market_id"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// publish sends evt on channel and, when stream is set, appends it to the
// durable stream. Failures are logged only; the bus is best effort.
func publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel, stream string, evt Event) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.WarnContext(ctx, "service: marshal event failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
		return
	}
	if channel != "" {
		if err := bus.Publish(ctx, channel, payload); err != nil {
			logger.WarnContext(ctx, "service: publish event failed",
				slog.String("event", evt.Event),
				slog.String("market_id", evt.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	if stream != "" {
		if err := bus.StreamAppend(ctx, stream, payload); err != nil {
			logger.WarnContext(ctx, "service: stream append failed",
				slog.String("stream", stream),
				slog.String("market_id", evt.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}
