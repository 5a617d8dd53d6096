// Package sensor holds the latest probe and float sensor readings. One
// polling goroutine refreshes the hub; everything else reads point-in-time
// copies from it.
package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/driver"
	"github.com/openhydro/hydrozone/internal/model"
)

// Level pairs a float sensor with its display label.
type Level struct {
	Label  string
	Sensor driver.LevelSensor
}

// Hub caches the most recent readings. A reading is reported unavailable
// when no device is assigned, the last poll failed, or the value is older
// than one polling interval.
type Hub struct {
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	ph     driver.Probe
	ec     driver.Probe
	levels map[string]Level

	phVal model.Reading
	phOK  bool
	ecVal model.Reading
	ecOK  bool
	water model.WaterLevelState

	onChange func()
}

func NewHub(interval time.Duration, log zerolog.Logger) *Hub {
	return &Hub{
		log:      log,
		interval: interval,
		now:      time.Now,
		levels:   make(map[string]Level),
		water:    model.WaterLevelState{},
	}
}

// AssignPH sets the pH probe; nil means no device.
func (h *Hub) AssignPH(p driver.Probe) {
	h.mu.Lock()
	h.ph = p
	h.phOK = false
	h.mu.Unlock()
}

// AssignEC sets the EC probe; nil means no device.
func (h *Hub) AssignEC(p driver.Probe) {
	h.mu.Lock()
	h.ec = p
	h.ecOK = false
	h.mu.Unlock()
}

// AssignLevels replaces the water level sensor set.
func (h *Hub) AssignLevels(levels map[string]Level) {
	h.mu.Lock()
	h.levels = levels
	h.mu.Unlock()
}

// OnChange registers a callback fired after a poll that changed any value.
func (h *Hub) OnChange(fn func()) { h.onChange = fn }

// Run polls until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	h.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Poll(ctx)
		}
	}
}

// Poll refreshes all readings once. Device I/O runs without holding the
// hub lock so a slow probe cannot stall readers.
func (h *Hub) Poll(ctx context.Context) {
	h.mu.RLock()
	ph, ec := h.ph, h.ec
	levels := h.levels
	h.mu.RUnlock()

	var (
		phVal, ecVal float64
		phErr, ecErr error
	)
	if ph != nil {
		phVal, phErr = ph.Read(ctx)
		if phErr != nil {
			h.log.Warn().Err(phErr).Msg("ph poll failed")
		}
	}
	if ec != nil {
		ecVal, ecErr = ec.Read(ctx)
		if ecErr != nil {
			h.log.Warn().Err(ecErr).Msg("ec poll failed")
		}
	}

	water := make(model.WaterLevelState, len(levels))
	for id, lv := range levels {
		triggered, err := lv.Sensor.Triggered()
		if err != nil {
			h.log.Warn().Err(err).Str("sensor", id).Msg("water level poll failed")
			// Read failure counts as empty: never a reason to dose.
			triggered = true
		}
		water[id] = model.WaterLevel{Label: lv.Label, Triggered: triggered}
	}

	now := h.now()
	h.mu.Lock()
	changed := false
	if ph != nil {
		ok := phErr == nil
		if ok != h.phOK || (ok && phVal != h.phVal.Value) {
			changed = true
		}
		h.phOK = ok
		if ok {
			h.phVal = model.Reading{Value: phVal, Timestamp: now}
		}
	}
	if ec != nil {
		ok := ecErr == nil
		if ok != h.ecOK || (ok && ecVal != h.ecVal.Value) {
			changed = true
		}
		h.ecOK = ok
		if ok {
			h.ecVal = model.Reading{Value: ecVal, Timestamp: now}
		}
	}
	if !waterEqual(h.water, water) {
		h.water = water
		changed = true
	}
	h.mu.Unlock()

	if changed && h.onChange != nil {
		h.onChange()
	}
}

// PH returns the latest pH reading, or ok=false when unavailable.
func (h *Hub) PH() (model.Reading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reading(h.ph, h.phVal, h.phOK)
}

// EC returns the latest EC reading, or ok=false when unavailable.
func (h *Hub) EC() (model.Reading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reading(h.ec, h.ecVal, h.ecOK)
}

func (h *Hub) reading(dev driver.Probe, r model.Reading, ok bool) (model.Reading, bool) {
	if dev == nil || !ok {
		return model.Reading{}, false
	}
	if r.Age(h.now()) > h.interval {
		return model.Reading{}, false
	}
	return r, true
}

// WaterLevels returns a copy of the latest water level snapshot.
func (h *Hub) WaterLevels() model.WaterLevelState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(model.WaterLevelState, len(h.water))
	for k, v := range h.water {
		out[k] = v
	}
	return out
}

// WaterPresent reports whether at least one assigned sensor sees water.
// With no sensors assigned it returns false: dosing must stay blocked.
func (h *Hub) WaterPresent() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, v := range h.water {
		if !v.Triggered {
			return true
		}
	}
	return false
}

func waterEqual(a, b model.WaterLevelState) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
