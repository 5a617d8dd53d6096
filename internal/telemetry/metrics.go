// Package telemetry exposes the Prometheus collectors and the Influx
// reading log shared across components.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PHGauge tracks the latest probe pH reading.
	PHGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hydrozone",
		Name:      "ph",
		Help:      "Latest pH reading.",
	})

	// ECGauge tracks the latest probe EC reading in mS/cm.
	ECGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hydrozone",
		Name:      "ec_ms_cm",
		Help:      "Latest electrical conductivity reading.",
	})

	// DosesTotal counts completed doses by type and trigger.
	DosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrozone",
		Name:      "doses_total",
		Help:      "Completed dose dispenses.",
	}, []string{"type", "trigger"})

	// InterlockSkips counts dosing cycles blocked by a safety interlock.
	InterlockSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrozone",
		Name:      "interlock_skips_total",
		Help:      "Dosing attempts blocked by an interlock.",
	}, []string{"reason"})

	// ValveActuations counts commands delivered to valve hardware.
	ValveActuations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrozone",
		Name:      "valve_actuations_total",
		Help:      "Valve state changes sent to hardware.",
	}, []string{"valve", "state"})

	// WaterLevelTriggered reports float switch state by sensor label.
	WaterLevelTriggered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hydrozone",
		Name:      "water_level_triggered",
		Help:      "1 when the float switch reports no water at its level.",
	}, []string{"sensor"})

	// PeerConnected reports remote zone link state.
	PeerConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hydrozone",
		Name:      "peer_connected",
		Help:      "1 when the remote zone websocket is up.",
	}, []string{"zone"})
)
