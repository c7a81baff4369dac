package server

import (
	"log/slog"
	"net/http"
	"strconv"
)

// handleLatestEvents handles GET /api/events/{id}?n=10.
func (s *CartsServer) handleLatestEvents(w http.ResponseWriter, r *http.Request) {
	deviceID, err := parseDeviceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n := defaultEventsLimit
	if v := r.URL.Query().Get("n"); v != "" {
		if n, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "n must be an integer")
			return
		}
	}

	evs, err := s.latestEvents(r.Context(), deviceID, n)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

// handleLastEvent handles GET /api/last/{id}. A device with no events gets {}.
func (s *CartsServer) handleLastEvent(w http.ResponseWriter, r *http.Request) {
	deviceID, err := parseDeviceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := s.store.LatestEvent(r.Context(), deviceID)
	if err != nil {
		slog.Warn("failed to read last event", "device", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "read last event: "+err.Error())
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleDevices handles GET /api/devices?idle_secs=N.
func (s *CartsServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	idleSecs := 0
	if v := r.URL.Query().Get("idle_secs"); v != "" {
		var err error
		if idleSecs, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "idle_secs must be an integer")
			return
		}
	}
	entries, err := s.devices(idleSecs)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispositivos": entries})
}

func parseDeviceID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 0 {
		return 0, inputError("invalid device id " + strconv.Quote(r.PathValue("id")))
	}
	return id, nil
}
