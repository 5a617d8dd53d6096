// Package server exposes the controller over HTTP: a REST command
// surface, a websocket status stream and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/calibration"
	"github.com/openhydro/hydrozone/internal/dosing"
	"github.com/openhydro/hydrozone/internal/history"
	"github.com/openhydro/hydrozone/internal/settings"
	"github.com/openhydro/hydrozone/internal/status"
	"github.com/openhydro/hydrozone/internal/valve"
)

type Server struct {
	log     zerolog.Logger
	addr    string
	store   settings.Store
	hub     *status.Hub
	valves  *valve.Coordinator
	dosing  *dosing.Controller
	feeding *dosing.Feeding
	calib   *calibration.Manager
	history *history.Store
}

func New(addr string, store settings.Store, hub *status.Hub, valves *valve.Coordinator, ctrl *dosing.Controller, feeding *dosing.Feeding, calib *calibration.Manager, hist *history.Store, log zerolog.Logger) *Server {
	return &Server{
		log:     log,
		addr:    addr,
		store:   store,
		hub:     hub,
		valves:  valves,
		dosing:  ctrl,
		feeding: feeding,
		calib:   calib,
		history: hist,
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.getStatus).Methods("GET")
	api.HandleFunc("/status/ws", s.statusWS).Methods("GET")

	api.HandleFunc("/valves", s.listValves).Methods("GET")
	api.HandleFunc("/valves/{name}/{action:on|off}", s.setValve).Methods("POST")

	api.HandleFunc("/dose", s.manualDose).Methods("POST")
	api.HandleFunc("/dose/history", s.doseHistory).Methods("GET")
	api.HandleFunc("/dosing/auto", s.setAutoDosing).Methods("POST")

	api.HandleFunc("/calibrate/{probe}", s.calibrate).Methods("POST")
	api.HandleFunc("/calibrate/{probe}", s.clearCalibration).Methods("DELETE")
	api.HandleFunc("/calibrate/{probe}/log", s.calibrationLog).Methods("GET")

	api.HandleFunc("/feeding/start", s.startFeeding).Methods("POST")
	api.HandleFunc("/feeding/stop", s.stopFeeding).Methods("POST")

	api.HandleFunc("/settings", s.getSettings).Methods("GET")
	api.HandleFunc("/settings/dosing", s.putDosingSettings).Methods("PUT")
	return r
}

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket streams stay open
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", s.addr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}
