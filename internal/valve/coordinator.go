// Package valve serializes and debounces on/off commands per named valve.
// Commands arriving inside an open debounce window only replace the desired
// state; the relay is driven exactly once per window, to whatever was
// requested last. That keeps chattering UI clicks and overlapping automatic
// fill/drain decisions from wearing the relay and the valve actuator.
package valve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/model"
	"github.com/openhydro/hydrozone/internal/telemetry"
)

// Actuator drives a single relay channel; local board or remote zone.
type Actuator interface {
	Set(ctx context.Context, channel int, on bool) error
}

type entry struct {
	label    string
	channel  int
	actuator Actuator

	status  model.ValveStatus
	pending *pendingCmd
}

type pendingCmd struct {
	desired bool
	until   time.Time
}

// Coordinator owns the per-valve debounce state. One scheduled firing per
// window; late requests just rewrite the desired value it will apply.
type Coordinator struct {
	log    zerolog.Logger
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	valves map[string]*entry

	onChange func()
	onError  func(valve string, err error)
}

func NewCoordinator(window time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		log:    log,
		window: window,
		now:    time.Now,
		valves: make(map[string]*entry),
	}
}

// Register adds a named valve backed by the given actuator channel.
// Status starts Unknown until the first actuation or observed poll.
func (c *Coordinator) Register(name, label string, channel int, a Actuator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valves[name] = &entry{label: label, channel: channel, actuator: a, status: model.ValveUnknown}
}

// OnChange registers a callback fired after any valve state change.
func (c *Coordinator) OnChange(fn func()) { c.onChange = fn }

// OnError registers a callback fired when a deferred actuation fails.
func (c *Coordinator) OnError(fn func(valve string, err error)) { c.onError = fn }

// Request records the desired state for a valve. If no window is open for
// it, a new one starts and the relay fires when it closes; if one is open,
// only the desired state is updated and the window keeps its deadline.
func (c *Coordinator) Request(name string, on bool) error {
	c.mu.Lock()
	e, ok := c.valves[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: unknown valve %q", model.ErrConfiguration, name)
	}
	if e.pending != nil {
		e.pending.desired = on
		c.mu.Unlock()
		return nil
	}
	e.pending = &pendingCmd{desired: on, until: c.now().Add(c.window)}
	c.mu.Unlock()

	time.AfterFunc(c.window, func() { c.fire(name) })
	return nil
}

// fire applies the settled desired state for one valve. Runs once per
// debounce window; the relay call happens outside the lock.
func (c *Coordinator) fire(name string) {
	c.mu.Lock()
	e, ok := c.valves[name]
	if !ok || e.pending == nil {
		c.mu.Unlock()
		return
	}
	desired := e.pending.desired
	e.pending = nil
	actuator, channel := e.actuator, e.channel
	c.mu.Unlock()

	err := actuator.Set(context.Background(), channel, desired)

	c.mu.Lock()
	if err != nil {
		e.status = model.ValveUnknown
	} else if desired {
		e.status = model.ValveOn
	} else {
		e.status = model.ValveOff
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error().Err(err).Str("valve", name).Msg("valve actuation failed")
		if c.onError != nil {
			c.onError(name, err)
		}
	} else {
		state := "off"
		if desired {
			state = "on"
		}
		telemetry.ValveActuations.WithLabelValues(name, state).Inc()
		c.log.Info().Str("valve", name).Bool("on", desired).Msg("valve actuated")
	}
	if c.onChange != nil {
		c.onChange()
	}
}

// States returns a copy of all valve states.
func (c *Coordinator) States() map[string]model.ValveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]model.ValveState, len(c.valves))
	for name, e := range c.valves {
		st := model.ValveState{Label: e.label, Status: e.status}
		if e.pending != nil {
			t := e.pending.until
			st.PendingUntil = &t
		}
		out[name] = st
	}
	return out
}

// Observe reconciles a valve's status from a hardware poll without issuing
// commands. Ignored while a window is open for that valve.
func (c *Coordinator) Observe(name string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.valves[name]
	if !ok || e.pending != nil {
		return
	}
	if on {
		e.status = model.ValveOn
	} else {
		e.status = model.ValveOff
	}
}
