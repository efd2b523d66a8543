// Package notify fans settlement alerts out to operator chat channels.
// Events can be filtered so operators only hear about what they act on; a
// market that resolved with no winning bets is always delivered because its
// unclaimed pool needs a decision.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// Event types understood by the notifier filter.
const (
	EventMarketResolved   = "market_resolved"
	EventMarketCancelled  = "market_cancelled"
	EventNoWinners        = "no_winners"
	EventSettlementFailed = "settlement_failed"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender, subject to the event filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every event
// through.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if event != EventNoWinners && len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifySettlement formats and delivers a settlement outcome.
func (n *Notifier) NotifySettlement(ctx context.Context, market domain.Market, r domain.SettlementResult) error {
	event, title, msg := describe(market, r)
	return n.Notify(ctx, event, title, msg)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), err)
	}
	return nil
}

func describe(m domain.Market, r domain.SettlementResult) (event, title, msg string) {
	switch {
	case r.Kind == domain.SettlementCancelled:
		return EventMarketCancelled,
			"Market cancelled",
			fmt.Sprintf("%q (%s)\nrefunded %s across %d bets", m.Question, m.ID, r.TotalPool, len(r.Payouts))
	case !r.Unclaimed.IsZero():
		return EventNoWinners,
			"Market resolved with no winners",
			fmt.Sprintf("%q (%s)\nwinner %s had no bets; %s unclaimed, creator cut %s",
				m.Question, m.ID, outcomeName(m, r.WinningOutcomeID), r.Unclaimed, r.CreatorCut)
	default:
		return EventMarketResolved,
			"Market resolved",
			fmt.Sprintf("%q (%s)\nwinner %s, pool %s, creator cut %s, %d winning bets",
				m.Question, m.ID, outcomeName(m, r.WinningOutcomeID), r.TotalPool, r.CreatorCut, r.WinnerCount)
	}
}

func outcomeName(m domain.Market, id string) string {
	if o, ok := m.Outcome(id); ok && o.Name != "" {
		return o.Name
	}
	return id
}
