package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openhydro/hydrozone/internal/model"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrConfiguration):
		code = http.StatusBadRequest
	case errors.Is(err, model.ErrInterlocked):
		code = http.StatusConflict
	case errors.Is(err, model.ErrDeviceUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrPeerUnreachable):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Snapshot())
}

func (s *Server) listValves(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.valves.States())
}

func (s *Server) setValve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	on := vars["action"] == "on"
	if err := s.valves.Request(vars["name"], on); err != nil {
		writeError(w, err)
		return
	}
	// Accepted, not applied: the debounce window is still open.
	writeJSON(w, http.StatusAccepted, s.valves.States()[vars["name"]])
}

type doseRequest struct {
	Type     model.DoseType `json:"type"`
	AmountML float64        `json:"amount_ml"`
}

func (s *Server) manualDose(w http.ResponseWriter, r *http.Request) {
	var req doseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.dosing.ManualDose(r.Context(), req.Type, req.AmountML); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dosing.AutoDoseState())
}

func (s *Server) doseHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.history.RecentDoses(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.DoseEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type autoDosingRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setAutoDosing(w http.ResponseWriter, r *http.Request) {
	var req autoDosingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	err := s.store.Update(func(cfg *model.Settings) {
		cfg.Dosing.AutoDosingEnabled = req.Enabled
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.Invalidate()
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

type calibrateRequest struct {
	Point model.CalibrationPoint `json:"point"`
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	probe := model.Probe(mux.Vars(r)["probe"])
	var req calibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.calib.Calibrate(r.Context(), probe, req.Point); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.calib.Log(probe))
}

func (s *Server) clearCalibration(w http.ResponseWriter, r *http.Request) {
	probe := model.Probe(mux.Vars(r)["probe"])
	if err := s.calib.Clear(r.Context(), probe); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) calibrationLog(w http.ResponseWriter, r *http.Request) {
	probe := model.Probe(mux.Vars(r)["probe"])
	log := s.calib.Log(probe)
	if log == nil {
		log = []model.CalibrationLogEntry{}
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *Server) startFeeding(w http.ResponseWriter, _ *http.Request) {
	s.feeding.Start()
	writeJSON(w, http.StatusOK, s.feeding.State())
}

func (s *Server) stopFeeding(w http.ResponseWriter, _ *http.Request) {
	s.feeding.Stop()
	writeJSON(w, http.StatusOK, s.feeding.State())
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) putDosingSettings(w http.ResponseWriter, r *http.Request) {
	var req model.DosingSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.PHRange.Min > req.PHRange.Max {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "ph_range min exceeds max"})
		return
	}
	err := s.store.Update(func(cfg *model.Settings) {
		cfg.Dosing = req
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.Invalidate()
	writeJSON(w, http.StatusOK, s.store.Get().Dosing)
}
