package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lykmapipo/osm-analytics/internal/engine"
	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/stats"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// maxBodyBytes caps request bodies; polygons are the largest payload
const maxBodyBytes = 1 << 20

// UpdateRequest is the body of POST /api/update
type UpdateRequest struct {
	Region  models.Region          `json:"region"`
	Layers  []string               `json:"layers"`
	Filters models.FilterSelection `json:"filters"`
}

// UnitsRequest is the body of POST /api/units
type UnitsRequest struct {
	System string `json:"system"`
}

// SnapshotResponse wraps a snapshot with its display labels
type SnapshotResponse struct {
	Updating         bool            `json:"updating"`
	Snapshot         *stats.Snapshot `json:"snapshot"`
	ContributorLabel string          `json:"contributorLabel,omitempty"`
	SubTagLabel      string          `json:"subTagLabel,omitempty"`
}

// UpdateResponse is returned by POST /api/update
type UpdateResponse struct {
	Status string `json:"status"` // "published" or "stale"
	SnapshotResponse
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.broadcaster.UpgradeConnection(w, r)
}

// handleUpdate resolves, fetches and aggregates a new region
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	layers, err := s.resolveLayers(req.Layers)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, invalidRequest(err.Error()))
		return
	}
	switch req.Region.Type {
	case models.RegionBBox, models.RegionPolygon, models.RegionHot:
	default:
		s.writeError(w, http.StatusBadRequest, invalidRequest(fmt.Sprintf("unsupported region type %q", req.Region.Type)))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.UpdateTimeout)
	defer cancel()

	err = s.engine.Update(ctx, req.Region, layers, normalizeFilters(req.Filters))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, UpdateResponse{Status: "published", SnapshotResponse: s.snapshotResponse(s.engine.Snapshot())})
	case errors.Is(err, engine.ErrStaleUpdate):
		s.writeJSON(w, http.StatusAccepted, UpdateResponse{Status: "stale", SnapshotResponse: s.snapshotResponse(s.engine.Snapshot())})
	case utils.IsCode(err, utils.CodeRegionResolution):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case utils.IsCode(err, utils.CodeFeatureFetch):
		s.writeError(w, http.StatusBadGateway, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

// handleFilters re-applies filters to the retained results
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	var filters models.FilterSelection
	if !s.decode(w, r, &filters) {
		return
	}
	snap := s.engine.SetFilters(normalizeFilters(filters))
	s.writeJSON(w, http.StatusOK, s.snapshotResponse(snap))
}

// handleUnits switches the unit system
func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	var req UnitsRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.engine.SetUnitSystem(req.System)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.snapshotResponse(snap))
}

// handleSnapshot returns the latest snapshot
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.snapshotResponse(s.engine.Snapshot()))
}

// handleLayers returns the layer catalogue
func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	layers := s.layers.All()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"layers": layers,
		"count":  len(layers),
	})
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":   "ok",
		"clients":  s.broadcaster.GetClientCount(),
		"updating": s.engine.Updating(),
	}
	if snap := s.engine.Snapshot(); snap != nil {
		response["generation"] = snap.Generation
		response["generatedAt"] = snap.GeneratedAt
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) snapshotResponse(snap *stats.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{Updating: s.engine.Updating(), Snapshot: snap}
	if snap != nil {
		resp.ContributorLabel = snap.ContributorLabel()
		resp.SubTagLabel = snap.SubTagLabel()
	}
	return resp
}

func (s *Server) resolveLayers(names []string) ([]models.Layer, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one layer is required")
	}
	layers := make([]models.Layer, 0, len(names))
	for _, name := range names {
		layer, ok := s.layers.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown layer %q", name)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// normalizeFilters swaps reversed slider bounds
func normalizeFilters(f models.FilterSelection) models.FilterSelection {
	if f.Time != nil {
		r := models.NewRange(f.Time.Min, f.Time.Max)
		f.Time = &r
	}
	if f.Experience != nil {
		r := models.NewRange(f.Experience.Min, f.Experience.Max)
		f.Experience = &r
	}
	return f
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, invalidRequest(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

func invalidRequest(message string) *utils.AppError {
	return utils.NewAppError(utils.ErrorTypeValidation, utils.CodeInvalidRequest, message, "SERVER")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		appErr = utils.WrapError(err, utils.ErrorTypeInternal, "INTERNAL_ERROR", "internal error", "SERVER")
	}
	if status >= http.StatusInternalServerError {
		utils.LogAppError(err, s.logger)
	}
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    appErr.Type,
			"code":    appErr.Code,
			"message": appErr.Error(),
		},
	})
}
