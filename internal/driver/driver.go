// Package driver holds the hardware access layer: measurement probes,
// relay boards and float sensors. Each physical family gets its own
// concrete type behind a small capability interface; everything above this
// package is hardware-agnostic.
package driver

import (
	"context"
	"time"

	"github.com/openhydro/hydrozone/internal/model"
)

// Probe is a calibratable measurement probe (pH or EC).
type Probe interface {
	// Read takes a single sample. Returns model.ErrDeviceUnavailable
	// (possibly wrapped) when the device cannot be reached.
	Read(ctx context.Context) (float64, error)

	// Calibrate applies one fixed-point calibration with the given
	// reference value.
	Calibrate(ctx context.Context, point model.CalibrationPoint, value float64) error

	// ClearCalibration resets the probe to its uncalibrated state.
	ClearCalibration(ctx context.Context) error

	// CalibrationPoints reports how many calibration points the probe
	// currently stores (0 means uncalibrated).
	CalibrationPoints(ctx context.Context) (int, error)
}

// Relay switches individually addressable channels.
type Relay interface {
	// Set drives one channel on or off.
	Set(ctx context.Context, channel int, on bool) error

	// Energize drives a channel on for the given duration, then off. The
	// call blocks for the duration; the channel is switched off even if
	// the context is cancelled mid-run.
	Energize(ctx context.Context, channel int, d time.Duration) error
}

// LevelSensor is a single float switch. Triggered means no water present
// at the sensor's mounting height (NC contact reads low).
type LevelSensor interface {
	Triggered() (bool, error)
}
