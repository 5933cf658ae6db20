package api

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/service"
	"github.com/market-sync/internal/types"
)

const defaultMaxJumps = 5

// handleTradeRoutes handles GET /api/routes?start=&max_jumps=&budget=&limit=
func (s *Server) handleTradeRoutes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q := service.RouteQuery{
		StartSystem: query.Get("start"),
		MaxJumps:    defaultMaxJumps,
		Limit:       service.DefaultRouteLimit,
	}

	if raw := query.Get("max_jumps"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("max_jumps", "must be an integer"))
			return
		}
		q.MaxJumps = v
	}

	raw := query.Get("budget")
	if raw == "" {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("budget", "is required"))
		return
	}
	budget, err := decimal.NewFromString(raw)
	if err != nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("budget", "must be a number"))
		return
	}
	q.Budget = budget

	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("limit", "must be an integer"))
			return
		}
		q.Limit = v
	}

	if err := q.Validate(); err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := s.routes.FindTradeRoutes(r.Context(), q)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	code := http.StatusOK
	if result.Status == types.RouteSystemNotFound {
		code = http.StatusNotFound
	}
	respondJSON(w, code, result)
}
