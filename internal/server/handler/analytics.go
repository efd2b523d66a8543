package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// AnalyticsService is what the analytics handler needs from the service
// layer.
type AnalyticsService interface {
	Creator(ctx context.Context, creatorID string) (domain.CreatorAnalytics, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.ParticipantStats, error)
	Volatility(ctx context.Context, marketID string) (domain.MarketVolatility, error)
	Prediction(ctx context.Context, marketID string) (domain.MarketPrediction, error)
}

// AnalyticsHandler serves read-only analytics.
type AnalyticsHandler struct {
	analytics AnalyticsService
	logger    *slog.Logger
}

func NewAnalyticsHandler(analytics AnalyticsService, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: logHandler(logger, "analytics")}
}

// GET /api/creators/{id}/analytics
func (h *AnalyticsHandler) Creator(w http.ResponseWriter, r *http.Request) {
	a, err := h.analytics.Creator(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to load creator analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GET /api/leaderboard?limit=10
func (h *AnalyticsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.analytics.Leaderboard(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to load leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}

// GET /api/markets/{id}/volatility
func (h *AnalyticsHandler) Volatility(w http.ResponseWriter, r *http.Request) {
	v, err := h.analytics.Volatility(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to compute volatility", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GET /api/markets/{id}/prediction
func (h *AnalyticsHandler) Prediction(w http.ResponseWriter, r *http.Request) {
	p, err := h.analytics.Prediction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to compute prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
