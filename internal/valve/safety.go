package valve

import (
	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/model"
	"github.com/openhydro/hydrozone/internal/settings"
)

// LevelSource reports the current float sensor states.
type LevelSource interface {
	WaterLevels() model.WaterLevelState
}

// Safety closes the fill and drain valves when their guard sensors fire,
// and optionally re-opens the fill valve for automatic top-up. Check is
// invoked on every sensor state change; all commands go through the
// coordinator so they share its debounce window.
type Safety struct {
	log    zerolog.Logger
	store  settings.Store
	levels LevelSource
	coord  *Coordinator
}

func NewSafety(store settings.Store, levels LevelSource, coord *Coordinator, log zerolog.Logger) *Safety {
	return &Safety{log: log, store: store, levels: levels, coord: coord}
}

// Check applies the guard rules against the latest sensor states.
func (s *Safety) Check() {
	cfg := s.store.Get()
	state := s.levels.WaterLevels()

	// Triggered means no water at the sensor height. Water reaching the
	// full sensor closes the fill valve; water dropping below the
	// auto-fill sensor while the reservoir is not full reopens it.
	reservoirFull := false
	if lvl, ok := state[cfg.FillSensor]; ok {
		reservoirFull = !lvl.Triggered
		if reservoirFull && cfg.FillValve.Valve != "" {
			s.request(cfg.FillValve.Valve, false, "fill guard")
		}
	}

	if cfg.AutoFillSensor != "" {
		if lvl, ok := state[cfg.AutoFillSensor]; ok {
			if lvl.Triggered && !reservoirFull && cfg.FillValve.Valve != "" {
				s.request(cfg.FillValve.Valve, true, "auto fill")
			}
		}
	}

	if lvl, ok := state[cfg.DrainSensor]; ok {
		if lvl.Triggered && cfg.DrainValve.Valve != "" {
			s.request(cfg.DrainValve.Valve, false, "drain guard")
		}
	}
}

func (s *Safety) request(valve string, on bool, reason string) {
	if err := s.coord.Request(valve, on); err != nil {
		s.log.Error().Err(err).Str("valve", valve).Str("reason", reason).Msg("safety request failed")
		return
	}
	s.log.Info().Str("valve", valve).Bool("on", on).Str("reason", reason).Msg("safety request")
}
