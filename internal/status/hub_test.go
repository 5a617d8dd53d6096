package status

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhydro/hydrozone/internal/model"
	"github.com/openhydro/hydrozone/internal/settings"
)

type stubSensors struct {
	ph, ec     float64
	phOK, ecOK bool
	levels     model.WaterLevelState
}

func (s *stubSensors) PH() (model.Reading, bool) {
	return model.Reading{Value: s.ph, Timestamp: time.Now()}, s.phOK
}

func (s *stubSensors) EC() (model.Reading, bool) {
	return model.Reading{Value: s.ec, Timestamp: time.Now()}, s.ecOK
}

func (s *stubSensors) WaterLevels() model.WaterLevelState {
	out := make(model.WaterLevelState, len(s.levels))
	for k, v := range s.levels {
		out[k] = v
	}
	return out
}

type stubValves struct {
	states map[string]model.ValveState
}

func (s *stubValves) States() map[string]model.ValveState {
	out := make(map[string]model.ValveState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

type stubFeeding struct{ state model.FeedingState }

func (s *stubFeeding) State() model.FeedingState { return s.state }

func newTestHub(t *testing.T) (*Hub, *stubSensors) {
	t.Helper()
	sensors := &stubSensors{ph: 5.8, ec: 1.4, phOK: true, ecOK: true,
		levels: model.WaterLevelState{"sensor1": {Label: "Full", Triggered: false}}}
	valves := &stubValves{states: map[string]model.ValveState{
		"Fill": {Label: "Fill", Status: model.ValveOff},
	}}
	h := NewHub(settings.NewMemStore(model.DefaultSettings()), sensors, valves, &stubFeeding{}, NewRegistry(), zerolog.Nop())
	return h, sensors
}

func TestPublishComposesSnapshot(t *testing.T) {
	h, sensors := newTestHub(t)

	snap := h.Publish()
	require.NotNil(t, snap)
	require.NotNil(t, snap.PH)
	assert.InDelta(t, 5.8, snap.PH.Value, 0.001)
	assert.Equal(t, "Zone 1", snap.SystemName)
	assert.Contains(t, snap.Valves, "Fill")
	assert.False(t, snap.WaterLevel["sensor1"].Triggered)

	sensors.phOK = false
	snap = h.Publish()
	assert.Nil(t, snap.PH, "unavailable reading must be omitted, not zeroed")
}

func TestSeqIsMonotonic(t *testing.T) {
	h, _ := newTestHub(t)

	var prev uint64
	for i := 0; i < 5; i++ {
		snap := h.Publish()
		assert.Greater(t, snap.Seq, prev)
		prev = snap.Seq
	}
}

func TestSubscriberGetsLatestNotBacklog(t *testing.T) {
	h, sensors := newTestHub(t)

	ch, cancel := h.Subscribe()
	defer cancel()

	// Three publishes with no reader in between; only the newest must
	// be waiting in the channel.
	sensors.ph = 6.0
	h.Publish()
	sensors.ph = 6.1
	h.Publish()
	sensors.ph = 6.2
	last := h.Publish()

	select {
	case got := <-ch:
		assert.Equal(t, last.Seq, got.Seq)
		assert.InDelta(t, 6.2, got.PH.Value, 0.001)
	default:
		t.Fatal("expected a pending snapshot")
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected backlog snapshot seq=%d", extra.Seq)
	default:
	}
}

func TestSnapshotLazyComposes(t *testing.T) {
	h, _ := newTestHub(t)

	first := h.Snapshot()
	require.NotNil(t, first)
	assert.Equal(t, uint64(1), first.Seq)

	// Cached until the next publish.
	assert.Same(t, first, h.Snapshot())
}

func TestRegistryDeduplicates(t *testing.T) {
	r := NewRegistry()
	transitions := 0
	r.OnChange(func() { transitions++ })

	assert.True(t, r.Raise("ph_probe", "offline", "error", "read failed"))
	assert.False(t, r.Raise("ph_probe", "offline", "error", "read failed again"))
	assert.True(t, r.Raise("ph_probe", "offline", "warning", "degraded"))
	assert.Equal(t, 2, transitions)

	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "warning", active[0].State)
	assert.Equal(t, "degraded", active[0].Message)
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	r.Raise("ec_probe", "offline", "error", "no response")
	r.Raise("valve_board", "offline", "error", "serial write failed")

	assert.True(t, r.Clear("ec_probe", "offline"))
	assert.False(t, r.Clear("ec_probe", "offline"))

	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "valve_board", active[0].Device)
}
