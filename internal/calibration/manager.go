// Package calibration applies fixed-point calibration commands to the
// measurement probes and keeps a capped event log per probe.
package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/driver"
	"github.com/openhydro/hydrozone/internal/model"
)

// logCap bounds the per-probe calibration log.
const logCap = 50

// referenceValues maps each probe type to its accepted fixed points. The
// values match the reference solutions shipped with the probes; anything
// outside this table is rejected before touching hardware.
var referenceValues = map[model.Probe]map[model.CalibrationPoint]float64{
	model.ProbePH: {
		model.PointLow:  4.00,
		model.PointMid:  7.00,
		model.PointHigh: 10.00,
	},
	model.ProbeEC: {
		model.PointDry:  0,
		model.PointLow:  12.88,
		model.PointHigh: 80.00,
	},
}

// Recorder persists calibration log entries. May be nil.
type Recorder interface {
	RecordCalibration(probe model.Probe, entry model.CalibrationLogEntry) error
}

// Manager validates calibration requests, delegates to the probe drivers
// and records the outcome.
type Manager struct {
	log      zerolog.Logger
	recorder Recorder
	now      func() time.Time

	mu     sync.Mutex
	probes map[model.Probe]driver.Probe
	logs   map[model.Probe][]model.CalibrationLogEntry
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:    log,
		now:    time.Now,
		probes: make(map[model.Probe]driver.Probe),
		logs:   make(map[model.Probe][]model.CalibrationLogEntry),
	}
}

// SetRecorder attaches the persistent log sink.
func (m *Manager) SetRecorder(r Recorder) { m.recorder = r }

// Assign binds a probe driver. A nil driver unassigns.
func (m *Manager) Assign(probe model.Probe, dev driver.Probe) {
	m.mu.Lock()
	m.probes[probe] = dev
	m.mu.Unlock()
}

// ReferenceValue returns the fixed value for a probe/point pair.
func ReferenceValue(probe model.Probe, point model.CalibrationPoint) (float64, error) {
	points, ok := referenceValues[probe]
	if !ok {
		return 0, fmt.Errorf("%w: unknown probe %q", model.ErrConfiguration, probe)
	}
	value, ok := points[point]
	if !ok {
		return 0, fmt.Errorf("%w: probe %s does not support calibration point %q", model.ErrConfiguration, probe, point)
	}
	return value, nil
}

// Calibrate applies one fixed-point calibration. The reference value is
// looked up from the point, never taken from the caller.
func (m *Manager) Calibrate(ctx context.Context, probe model.Probe, point model.CalibrationPoint) error {
	value, err := ReferenceValue(probe, point)
	if err != nil {
		return err
	}
	dev, err := m.device(probe)
	if err != nil {
		return err
	}

	if err := dev.Calibrate(ctx, point, value); err != nil {
		m.append(probe, model.CalibrationFailure, fmt.Sprintf("calibrate %s: %v", point, err))
		return fmt.Errorf("calibrate %s %s: %w", probe, point, err)
	}
	m.append(probe, model.CalibrationSuccess, fmt.Sprintf("calibrated %s point at %.2f", point, value))
	m.log.Info().Str("probe", string(probe)).Str("point", string(point)).Msg("calibration applied")
	return nil
}

// Clear resets a probe to its uncalibrated state.
func (m *Manager) Clear(ctx context.Context, probe model.Probe) error {
	dev, err := m.device(probe)
	if err != nil {
		return err
	}
	if err := dev.ClearCalibration(ctx); err != nil {
		m.append(probe, model.CalibrationFailure, fmt.Sprintf("clear: %v", err))
		return fmt.Errorf("clear calibration %s: %w", probe, err)
	}
	m.append(probe, model.CalibrationSuccess, "calibration cleared")
	return nil
}

// Points reports how many calibration points the probe currently stores.
func (m *Manager) Points(ctx context.Context, probe model.Probe) (int, error) {
	dev, err := m.device(probe)
	if err != nil {
		return 0, err
	}
	return dev.CalibrationPoints(ctx)
}

// Log returns a copy of the probe's calibration log, newest last.
func (m *Manager) Log(probe model.Probe) []model.CalibrationLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CalibrationLogEntry(nil), m.logs[probe]...)
}

func (m *Manager) device(probe model.Probe) (driver.Probe, error) {
	m.mu.Lock()
	dev := m.probes[probe]
	m.mu.Unlock()
	if dev == nil {
		return nil, fmt.Errorf("%w: no %s probe assigned", model.ErrDeviceUnavailable, probe)
	}
	return dev, nil
}

func (m *Manager) append(probe model.Probe, outcome model.CalibrationOutcome, message string) {
	entry := model.CalibrationLogEntry{
		Time:    m.now(),
		Level:   string(probe),
		Outcome: outcome,
		Message: message,
	}
	m.mu.Lock()
	entries := append(m.logs[probe], entry)
	if len(entries) > logCap {
		entries = entries[len(entries)-logCap:]
	}
	m.logs[probe] = entries
	m.mu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.RecordCalibration(probe, entry); err != nil {
			m.log.Error().Err(err).Msg("record calibration failed")
		}
	}
}
