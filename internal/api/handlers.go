package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/internal/store"
	"github.com/klmetro-live/internal/topology"
	"github.com/klmetro-live/pkg/models"
)

// FareFinder looks up the fare between two stations.
type FareFinder interface {
	Fare(ctx context.Context, originID, destinationID int) (*models.Fare, error)
}

// PositionReader returns the last persisted position of every train.
type PositionReader interface {
	CurrentPositions(ctx context.Context) ([]models.Train, error)
}

// Handlers serves the read-only REST surface: static network data, fares,
// journey planning, and the persisted train positions.
type Handlers struct {
	topo      *topology.Topology
	fares     FareFinder
	positions PositionReader
	planner   *Planner
	logger    logger.Logger
}

func NewHandlers(topo *topology.Topology, fares FareFinder, positions PositionReader, log logger.Logger) *Handlers {
	return &Handlers{
		topo:      topo,
		fares:     fares,
		positions: positions,
		planner:   NewPlanner(topo),
		logger:    log,
	}
}

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// GetStations handles GET /api/stations
func (h *Handlers) GetStations(w http.ResponseWriter, r *http.Request) {
	stations := h.topo.Stations()
	writeJSON(w, http.StatusOK, map[string]any{
		"stations": stations,
		"count":    len(stations),
	})
}

// GetStation handles GET /api/stations/{stationID}
func (h *Handlers) GetStation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "stationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "stationID must be an integer")
		return
	}

	station, ok := h.topo.Station(id)
	if !ok {
		writeError(w, http.StatusNotFound, "station not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"station":   station,
		"transfers": h.topo.Transfers(id),
	})
}

// GetLines handles GET /api/lines
func (h *Handlers) GetLines(w http.ResponseWriter, r *http.Request) {
	names := h.topo.Lines()
	lines := make([]models.Line, 0, len(names))
	for _, name := range names {
		lines = append(lines, models.Line{Name: name, Stations: h.topo.StationsOf(name)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"count": len(lines),
	})
}

// GetFare handles GET /api/fare?from={id}&to={id}
func (h *Handlers) GetFare(w http.ResponseWriter, r *http.Request) {
	from, to, ok := fromToParams(w, r)
	if !ok {
		return
	}

	fare, err := h.fares.Fare(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, store.ErrFareNotFound) {
			writeError(w, http.StatusNotFound, "no fare for this station pair")
			return
		}
		h.logger.Error("Fare lookup failed", "from", from, "to", to, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up fare")
		return
	}

	writeJSON(w, http.StatusOK, fare)
}

// GetRoute handles GET /api/route?from={id}&to={id}
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	from, to, ok := fromToParams(w, r)
	if !ok {
		return
	}

	steps, err := h.planner.Plan(from, to)
	if err != nil {
		if errors.Is(err, ErrNoRoute) {
			writeError(w, http.StatusNotFound, "stations are not connected")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	transfers := 0
	for _, s := range steps {
		if s.Transfer {
			transfers++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"route":     steps,
		"stops":     len(steps),
		"transfers": transfers,
	})
}

// GetTrains handles GET /api/trains
func (h *Handlers) GetTrains(w http.ResponseWriter, r *http.Request) {
	trains, err := h.positions.CurrentPositions(r.Context())
	if err != nil {
		h.logger.Error("Failed to read current positions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve train positions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trains":    trains,
		"count":     len(trains),
		"timestamp": time.Now().UTC(),
	})
}

// Health handles GET /health, including a database connectivity probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.positions.CurrentPositions(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "error",
			"database":  "disconnected",
			"timestamp": time.Now().UTC(),
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"database":  "connected",
		"timestamp": time.Now().UTC(),
	})
}

func fromToParams(w http.ResponseWriter, r *http.Request) (from, to int, ok bool) {
	from, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be an integer station id")
		return 0, 0, false
	}
	to, err = strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be an integer station id")
		return 0, 0, false
	}
	return from, to, true
}
