package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"

	"github.com/openhydro/hydrozone/internal/model"
)

// PumpRelay drives the dosing pumps through GPIO-connected relay channels.
// Channel numbers map to BCM pins via the ports table.
type PumpRelay struct {
	chip  string
	ports map[int]int // relay channel -> GPIO pin
	log   zerolog.Logger

	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

func NewPumpRelay(chip string, ports map[int]int, log zerolog.Logger) *PumpRelay {
	return &PumpRelay{chip: chip, ports: ports, log: log, lines: make(map[int]*gpiocdev.Line)}
}

func (r *PumpRelay) line(channel int) (*gpiocdev.Line, error) {
	pin, ok := r.ports[channel]
	if !ok {
		return nil, fmt.Errorf("%w: no pump on relay channel %d", model.ErrConfiguration, channel)
	}
	if l, ok := r.lines[channel]; ok {
		return l, nil
	}
	l, err := gpiocdev.RequestLine(r.chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("%w: request gpio %d: %v", model.ErrDeviceUnavailable, pin, err)
	}
	r.lines[channel] = l
	return l, nil
}

func (r *PumpRelay) Set(ctx context.Context, channel int, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.line(channel)
	if err != nil {
		return err
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("%w: drive channel %d: %v", model.ErrDeviceUnavailable, channel, err)
	}
	return nil
}

func (r *PumpRelay) Energize(ctx context.Context, channel int, d time.Duration) error {
	if err := r.Set(ctx, channel, true); err != nil {
		return err
	}
	r.log.Debug().Int("channel", channel).Dur("duration", d).Msg("pump energized")
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	// De-energize unconditionally; a pump left running floods the reservoir.
	if err := r.Set(context.Background(), channel, false); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *PumpRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch, l := range r.lines {
		_ = l.SetValue(0)
		_ = l.Close()
		delete(r.lines, ch)
	}
	return nil
}

// FloatSensor reads a single NC float switch on a GPIO pin with the
// internal pull-up enabled. A low pin means the contact is open: no water.
type FloatSensor struct {
	chip string
	pin  int

	once sync.Once
	line *gpiocdev.Line
	err  error
}

func NewFloatSensor(chip string, pin int) *FloatSensor {
	return &FloatSensor{chip: chip, pin: pin}
}

func (s *FloatSensor) Triggered() (bool, error) {
	s.once.Do(func() {
		s.line, s.err = gpiocdev.RequestLine(s.chip, s.pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	})
	if s.err != nil {
		return false, fmt.Errorf("%w: request gpio %d: %v", model.ErrDeviceUnavailable, s.pin, s.err)
	}
	v, err := s.line.Value()
	if err != nil {
		return false, fmt.Errorf("%w: read gpio %d: %v", model.ErrDeviceUnavailable, s.pin, err)
	}
	// Low = triggered = water not present. The inversion is deliberate;
	// the float switches are wired normally-closed.
	return v == 0, nil
}
