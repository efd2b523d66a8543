package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/streampredict/internal/domain"
	"github.com/alanyoungcy/streampredict/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	PlaceBet(ctx context.Context, req service.PlaceBetRequest) (domain.Bet, domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
	ListBets(ctx context.Context, marketID string) ([]domain.Bet, error)
	ListParticipantBets(ctx context.Context, participantID string, opts domain.ListOpts) ([]domain.Bet, error)
}

// OddsRepricer re-prices a single market on demand.
type OddsRepricer interface {
	RepriceMarket(ctx context.Context, marketID string, factors *domain.ExternalFactors) (domain.Market, error)
}

// MarketHandler serves market, bet and odds endpoints.
type MarketHandler struct {
	markets MarketService
	odds    OddsRepricer
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. odds may be nil, in which case
// the re-price endpoint answers 503.
func NewMarketHandler(markets MarketService, odds OddsRepricer, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		odds:    odds,
		logger:  logHandler(logger, "market"),
	}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns active markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListActive(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list markets", err)
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to count markets", err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get market", err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

type placeBetBody struct {
	ParticipantID string          `json:"participant_id"`
	OutcomeID     string          `json:"outcome_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type placeBetResponse struct {
	Bet    domain.Bet    `json:"bet"`
	Market domain.Market `json:"market"`
}

// PlaceBet records a bet and returns it with the re-priced market.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var body placeBetBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bet, m, err := h.markets.PlaceBet(r.Context(), service.PlaceBetRequest{
		MarketID:      pathParam(r, "id"),
		ParticipantID: body.ParticipantID,
		OutcomeID:     body.OutcomeID,
		Amount:        body.Amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, placeBetResponse{Bet: bet, Market: m})
}

// ListBets returns the bet ledger of a market in placement order.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.markets.ListBets(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list bets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets, "total": len(bets)})
}

// ListParticipantBets returns a participant's betting history, newest first.
// GET /api/participants/{id}/bets?limit=50&offset=0
func (h *MarketHandler) ListParticipantBets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	bets, err := h.markets.ListParticipantBets(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list participant bets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bets":   bets,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// Reprice recomputes the odds of one market. An optional JSON body supplies
// external factors in place of the configured signal source.
// POST /api/markets/{id}/odds
func (h *MarketHandler) Reprice(w http.ResponseWriter, r *http.Request) {
	if h.odds == nil {
		writeError(w, http.StatusServiceUnavailable, "pricing disabled")
		return
	}

	var factors *domain.ExternalFactors
	var body domain.ExternalFactors
	ok, err := decodeOptionalJSON(w, r, &body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		factors = &body
	}

	m, err := h.odds.RepriceMarket(r.Context(), pathParam(r, "id"), factors)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to reprice market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
