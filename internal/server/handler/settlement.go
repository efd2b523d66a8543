package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// SettlementService is what the settlement handler needs from the service
// layer.
type SettlementService interface {
	Resolve(ctx context.Context, marketID, winningOutcomeID string) (domain.SettlementResult, error)
	Cancel(ctx context.Context, marketID string) (domain.SettlementResult, error)
	GetSettlement(ctx context.Context, marketID string) (domain.SettlementResult, error)
}

// SettlementHandler serves resolution, cancellation and settlement lookup.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, logger: logHandler(logger, "settlement")}
}

type resolveBody struct {
	WinningOutcomeID string `json:"winning_outcome_id"`
}

type settlementResponse struct {
	Settlement domain.SettlementResult `json:"settlement"`
	Warning    string                  `json:"warning,omitempty"`
	Unclaimed  string                  `json:"unclaimed,omitempty"`
}

// Resolve settles a market in favour of one outcome. A market whose winning
// outcome drew no bets still settles; the response carries a warning and the
// unclaimed pool.
// POST /api/markets/{id}/resolve
func (h *SettlementHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.settlements.Resolve(r.Context(), pathParam(r, "id"), body.WinningOutcomeID)
	var noWinners *domain.NoWinnersError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, settlementResponse{Settlement: result})
	case errors.As(err, &noWinners):
		writeJSON(w, http.StatusOK, settlementResponse{
			Settlement: result,
			Warning:    noWinners.Error(),
			Unclaimed:  noWinners.Unclaimed.String(),
		})
	default:
		writeServiceError(w, r, h.logger, "failed to resolve market", err)
	}
}

// Cancel refunds every bet on a market.
// POST /api/markets/{id}/cancel
func (h *SettlementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	result, err := h.settlements.Cancel(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to cancel market", err)
		return
	}
	writeJSON(w, http.StatusOK, settlementResponse{Settlement: result})
}

// GetSettlement returns the stored settlement of a market.
// GET /api/markets/{id}/settlement
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	result, err := h.settlements.GetSettlement(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
