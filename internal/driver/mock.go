package driver

import (
	"context"
	"sync"
	"time"

	"github.com/openhydro/hydrozone/internal/model"
)

// MockProbe is an in-memory Probe for tests and dev mode.
type MockProbe struct {
	mu     sync.Mutex
	value  float64
	err    error
	points int
	calls  []string
}

func NewMockProbe(value float64) *MockProbe { return &MockProbe{value: value} }

func (m *MockProbe) SetValue(v float64) {
	m.mu.Lock()
	m.value = v
	m.mu.Unlock()
}

func (m *MockProbe) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockProbe) Read(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.value, nil
}

func (m *MockProbe) Calibrate(_ context.Context, point model.CalibrationPoint, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.points++
	m.calls = append(m.calls, string(point))
	return nil
}

func (m *MockProbe) ClearCalibration(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.points = 0
	m.calls = append(m.calls, "clear")
	return nil
}

func (m *MockProbe) CalibrationPoints(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points, m.err
}

func (m *MockProbe) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// RelayOp records one actuation applied to a MockRelay.
type RelayOp struct {
	Channel  int
	On       bool
	Duration time.Duration
}

// MockRelay is an in-memory Relay recording every actuation.
type MockRelay struct {
	mu    sync.Mutex
	err   error
	state map[int]bool
	ops   []RelayOp
}

func NewMockRelay() *MockRelay { return &MockRelay{state: make(map[int]bool)} }

func (m *MockRelay) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockRelay) Set(_ context.Context, channel int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.state[channel] = on
	m.ops = append(m.ops, RelayOp{Channel: channel, On: on})
	return nil
}

func (m *MockRelay) Energize(_ context.Context, channel int, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.ops = append(m.ops, RelayOp{Channel: channel, On: true, Duration: d})
	return nil
}

func (m *MockRelay) On(channel int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[channel]
}

func (m *MockRelay) Ops() []RelayOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RelayOp(nil), m.ops...)
}

// MockLevelSensor is a settable LevelSensor.
type MockLevelSensor struct {
	mu        sync.Mutex
	triggered bool
	err       error
}

func NewMockLevelSensor(triggered bool) *MockLevelSensor {
	return &MockLevelSensor{triggered: triggered}
}

func (m *MockLevelSensor) SetTriggered(v bool) {
	m.mu.Lock()
	m.triggered = v
	m.mu.Unlock()
}

func (m *MockLevelSensor) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockLevelSensor) Triggered() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered, m.err
}
