// Package dosing runs the periodic pH correction state machine. Each
// evaluation tick reads the latest settings and sensor state, checks the
// safety interlocks, and dispenses at most one dose through a pump relay.
package dosing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/model"
	"github.com/openhydro/hydrozone/internal/settings"
	"github.com/openhydro/hydrozone/internal/telemetry"
)

// State is the controller's current phase.
type State string

const (
	StateIdle           State = "idle"
	StateEvaluating     State = "evaluating"
	StateDosing         State = "dosing"
	StateCooldown       State = "cooldown"
	StateBlockedFeeding State = "blocked_feeding"
	StateBlockedNoWater State = "blocked_no_water"
)

// SensorSource is the slice of the sensor hub the controller needs.
type SensorSource interface {
	PH() (model.Reading, bool)
	WaterPresent() bool
}

// Pump energizes a relay channel for a bounded duration.
type Pump interface {
	Energize(ctx context.Context, channel int, d time.Duration) error
}

// Recorder persists completed dose events.
type Recorder interface {
	RecordDose(event model.DoseEvent) error
}

// Notifier publishes dose events to external consumers. May be nil.
type Notifier interface {
	PublishDose(event model.DoseEvent)
}

// Controller evaluates once per configured interval and on demand for
// manual dose requests. At most one dose is ever in flight.
type Controller struct {
	log      zerolog.Logger
	store    settings.Store
	sensors  SensorSource
	pump     Pump
	feeding  *Feeding
	recorder Recorder
	notifier Notifier

	tick time.Duration
	now  func() time.Time

	mu           sync.Mutex
	state        State
	inFlight     bool
	nextDue      time.Time
	lastInterval float64

	onChange func()
}

func NewController(store settings.Store, sensors SensorSource, pump Pump, feeding *Feeding, recorder Recorder, log zerolog.Logger) *Controller {
	return &Controller{
		log:      log,
		store:    store,
		sensors:  sensors,
		pump:     pump,
		feeding:  feeding,
		recorder: recorder,
		tick:     5 * time.Second,
		now:      time.Now,
		state:    StateIdle,
	}
}

// SetNotifier attaches the outbound event publisher.
func (c *Controller) SetNotifier(n Notifier) { c.notifier = n }

// SetTickInterval overrides the evaluation tick. Call before Run.
func (c *Controller) SetTickInterval(d time.Duration) {
	if d > 0 {
		c.tick = d
	}
}

// OnChange registers a callback fired after every completed dose.
func (c *Controller) OnChange(fn func()) { c.onChange = fn }

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the periodic evaluation until the context is cancelled. The
// schedule is recomputed from settings every tick so interval changes take
// effect without a restart, the same way the original loop behaved.
func (c *Controller) Run(ctx context.Context) {
	t := time.NewTicker(c.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Tick(ctx)
		}
	}
}

// Tick advances the schedule by one step and evaluates when a dose is due.
func (c *Controller) Tick(ctx context.Context) {
	cfg := c.store.Get().Dosing
	now := c.now()

	c.mu.Lock()
	if !cfg.AutoDosingEnabled || cfg.DosingIntervalHours <= 0 {
		c.state = StateIdle
		c.nextDue = time.Time{}
		c.lastInterval = 0
		c.mu.Unlock()
		return
	}
	interval := time.Duration(cfg.DosingIntervalHours * float64(time.Hour))
	if c.lastInterval != cfg.DosingIntervalHours || c.nextDue.IsZero() {
		c.lastInterval = cfg.DosingIntervalHours
		c.nextDue = now.Add(interval)
		c.persistNextDue(c.nextDue)
		c.mu.Unlock()
		return
	}
	due := !now.Before(c.nextDue)
	if due {
		c.nextDue = now.Add(interval)
		c.persistNextDue(c.nextDue)
	}
	c.mu.Unlock()

	if !due {
		return
	}
	if err := c.EvaluateOnce(ctx); err != nil {
		c.log.Debug().Err(err).Msg("evaluation skipped")
	}
}

// EvaluateOnce runs one automatic evaluation cycle.
func (c *Controller) EvaluateOnce(ctx context.Context) error {
	cfg := c.store.Get().Dosing
	c.setState(StateEvaluating)

	if err := c.checkInterlocks(); err != nil {
		return err
	}

	ph, ok := c.sensors.PH()
	if !ok {
		c.setState(StateIdle)
		return fmt.Errorf("%w: no pH reading", model.ErrDeviceUnavailable)
	}
	if cfg.PHRange.Contains(ph.Value) {
		c.setState(StateCooldown)
		return nil
	}

	delta := cfg.PHTarget - ph.Value
	typ := model.DoseDown
	strength := cfg.DosageStrength.PHDown
	if ph.Value < cfg.PHTarget {
		typ = model.DoseUp
		strength = cfg.DosageStrength.PHUp
	}
	amount := abs(delta) * strength
	if amount > cfg.MaxDosingAmountML {
		amount = cfg.MaxDosingAmountML
	}
	if amount <= 0 {
		c.setState(StateCooldown)
		return nil
	}
	return c.dose(ctx, cfg, typ, amount, model.TriggerAuto)
}

// ManualDose dispenses a requested amount immediately. Manual requests
// skip the auto-enable check but still honor the feeding and no-water
// interlocks; the per-cycle cap does not apply.
func (c *Controller) ManualDose(ctx context.Context, typ model.DoseType, amountML float64) error {
	if typ != model.DoseUp && typ != model.DoseDown {
		return fmt.Errorf("%w: invalid dose type %q", model.ErrConfiguration, typ)
	}
	if amountML <= 0 {
		return fmt.Errorf("%w: dose amount must be positive, got %.2f", model.ErrConfiguration, amountML)
	}
	if err := c.checkInterlocks(); err != nil {
		return err
	}
	return c.dose(ctx, c.store.Get().Dosing, typ, amountML, model.TriggerManual)
}

// checkInterlocks applies the safety overlays shared by automatic and
// manual dosing. A blocked cycle is a skip, not a fault.
func (c *Controller) checkInterlocks() error {
	if c.feeding.Active() {
		c.setState(StateBlockedFeeding)
		telemetry.InterlockSkips.WithLabelValues("feeding").Inc()
		return fmt.Errorf("%w: feeding in progress", model.ErrInterlocked)
	}
	if !c.sensors.WaterPresent() {
		c.setState(StateBlockedNoWater)
		telemetry.InterlockSkips.WithLabelValues("no_water").Inc()
		return fmt.Errorf("%w: no water detected", model.ErrInterlocked)
	}
	return nil
}

func (c *Controller) dose(ctx context.Context, cfg model.DosingSettings, typ model.DoseType, amountML float64, trigger model.DoseTrigger) error {
	var (
		secPerML float64
		port     int
	)
	if typ == model.DoseUp {
		secPerML = cfg.PumpCalibration.Pump1SecPerML
		port = cfg.RelayPorts.PHUp
	} else {
		secPerML = cfg.PumpCalibration.Pump2SecPerML
		port = cfg.RelayPorts.PHDown
	}
	if secPerML <= 0 {
		c.setState(StateIdle)
		return fmt.Errorf("%w: pump calibration missing for pH %s", model.ErrConfiguration, typ)
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return fmt.Errorf("%w: dose already in progress", model.ErrInterlocked)
	}
	c.inFlight = true
	c.state = StateDosing
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	duration := time.Duration(amountML * secPerML * float64(time.Second))
	c.log.Info().
		Str("type", string(typ)).
		Str("trigger", string(trigger)).
		Float64("amount_ml", amountML).
		Dur("duration", duration).
		Int("port", port).
		Msg("dispensing")

	if err := c.pump.Energize(ctx, port, duration); err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("%w: pump actuation: %v", model.ErrDeviceUnavailable, err)
	}

	event := model.DoseEvent{
		Time:        c.now(),
		Type:        typ,
		AmountML:    amountML,
		DurationSec: duration.Seconds(),
		TriggeredBy: trigger,
	}
	if c.recorder != nil {
		if err := c.recorder.RecordDose(event); err != nil {
			c.log.Error().Err(err).Msg("record dose failed")
		}
	}
	c.recordLastDose(event, cfg)
	telemetry.DosesTotal.WithLabelValues(string(typ), string(trigger)).Inc()

	if c.notifier != nil {
		c.notifier.PublishDose(event)
	}
	c.setState(StateCooldown)
	if c.onChange != nil {
		c.onChange()
	}
	return nil
}

// recordLastDose writes last/next dose bookkeeping back to the settings
// store, restarting the interval from this dose like the original did.
func (c *Controller) recordLastDose(event model.DoseEvent, cfg model.DosingSettings) {
	next := time.Time{}
	if cfg.AutoDosingEnabled && cfg.DosingIntervalHours > 0 {
		next = event.Time.Add(time.Duration(cfg.DosingIntervalHours * float64(time.Hour)))
		c.mu.Lock()
		c.nextDue = next
		c.mu.Unlock()
	}
	err := c.store.Update(func(s *model.Settings) {
		t := event.Time
		s.AutoDose.LastDoseTime = &t
		s.AutoDose.LastDoseType = event.Type
		s.AutoDose.LastDoseAmount = event.AmountML
		if next.IsZero() {
			s.AutoDose.NextDoseTime = nil
		} else {
			n := next
			s.AutoDose.NextDoseTime = &n
		}
	})
	if err != nil {
		c.log.Error().Err(err).Msg("persist dose state failed")
	}
}

func (c *Controller) persistNextDue(next time.Time) {
	err := c.store.Update(func(s *model.Settings) {
		n := next
		s.AutoDose.NextDoseTime = &n
	})
	if err != nil {
		c.log.Error().Err(err).Msg("persist next dose time failed")
	}
}

// AutoDoseState returns the dashboard-facing dose bookkeeping.
func (c *Controller) AutoDoseState() model.AutoDoseState {
	return c.store.Get().AutoDose
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
