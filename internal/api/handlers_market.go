package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/models"
)

const defaultHistoryDays = 30

// regionStatusResponse is the fetch record plus the live order count.
type regionStatusResponse struct {
	*models.FetchStatus
	OrdersStored *int64 `json:"orders_stored,omitempty"`
}

// parseID reads a positive int32 id. ok is false when the value is absent.
func parseID(raw, name string) (id int32, ok bool, err error) {
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v <= 0 {
		return 0, false, apperrors.NewInvalidParameterError(name, "must be a positive integer")
	}
	return int32(v), true, nil
}

// requireID is parseID for mandatory parameters.
func requireID(raw, name string) (int32, error) {
	id, ok, err := parseID(raw, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperrors.NewInvalidParameterError(name, "is required")
	}
	return id, nil
}

// handleRefreshRegion handles POST /api/markets/refresh?region_id=&type_id=
func (s *Server) handleRefreshRegion(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	regionID, err := requireID(query.Get("region_id"), "region_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	typeID, hasType, err := parseID(query.Get("type_id"), "type_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var typeFilter *int32
	if hasType {
		typeFilter = &typeID
	}

	j, err := s.dispatcher.RefreshRegion(r.Context(), regionID, typeFilter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":    j.ID,
		"region_id": j.RegionID,
		"type_id":   j.TypeID,
		"status":    "queued",
	})
}

// handleRefreshAll handles POST /api/markets/refresh-all
func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.dispatcher.RunAll(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := "queued"
	if result.Skipped {
		status = "skipped"
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":   status,
		"skipped":  result.Skipped,
		"enqueued": result.Enqueued,
	})
}

// handleFetchStatus handles GET /api/markets/status/{region_id}
func (s *Server) handleFetchStatus(w http.ResponseWriter, r *http.Request) {
	regionID, err := requireID(mux.Vars(r)["region_id"], "region_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status, err := s.status.Get(r.Context(), regionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := regionStatusResponse{FetchStatus: status}
	if s.orders != nil {
		n, err := s.orders.CountByRegion(r.Context(), regionID)
		if err != nil {
			respondServiceError(w, r, apperrors.NewDatabaseError("count orders", err))
			return
		}
		resp.OrdersStored = &n
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListFetchStatus handles GET /api/markets/status
func (s *Server) handleListFetchStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.status.List(r.Context())
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("list fetch status", err))
		return
	}
	if statuses == nil {
		statuses = []*models.FetchStatus{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(statuses),
		"regions": statuses,
	})
}

// handleHistory handles GET /api/markets/history?region_id=&type_id=&days=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	regionID, err := requireID(query.Get("region_id"), "region_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	typeID, err := requireID(query.Get("type_id"), "type_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	days := defaultHistoryDays
	if raw := query.Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days <= 0 {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("days", "must be a positive integer"))
			return
		}
	}
	if s.config.HistoryMaxDays > 0 && days > s.config.HistoryMaxDays {
		days = s.config.HistoryMaxDays
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -days)

	records, err := s.history.ListHistory(r.Context(), regionID, typeID, since)
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("list history", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"region_id": regionID,
		"type_id":   typeID,
		"since":     since.Format("2006-01-02"),
		"count":     len(records),
		"history":   records,
	})
}
