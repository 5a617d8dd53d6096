package valve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhydro/hydrozone/internal/model"
)

const testWindow = 30 * time.Millisecond

type actuation struct {
	Channel int
	On      bool
}

type fakeActuator struct {
	mu   sync.Mutex
	ops  []actuation
	err  error
}

func (f *fakeActuator) Set(_ context.Context, channel int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ops = append(f.ops, actuation{Channel: channel, On: on})
	return nil
}

func (f *fakeActuator) took() []actuation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]actuation(nil), f.ops...)
}

func newTestCoordinator() (*Coordinator, *fakeActuator) {
	c := NewCoordinator(testWindow, zerolog.Nop())
	a := &fakeActuator{}
	c.Register("Fill", "Fill Valve", 3, a)
	return c, a
}

func waitForOps(t *testing.T, a *fakeActuator, n int) []actuation {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(a.took()) >= n
	}, time.Second, 5*time.Millisecond)
	return a.took()
}

func TestRequestFiresOncePerWindow(t *testing.T) {
	c, a := newTestCoordinator()

	require.NoError(t, c.Request("Fill", true))
	ops := waitForOps(t, a, 1)
	require.Len(t, ops, 1)
	assert.Equal(t, actuation{Channel: 3, On: true}, ops[0])

	st := c.States()["Fill"]
	assert.Equal(t, model.ValveOn, st.Status)
	assert.Nil(t, st.PendingUntil)
}

func TestRequestsInsideWindowCoalesce(t *testing.T) {
	c, a := newTestCoordinator()

	// On then Off inside one window: the relay is driven exactly once,
	// to the last requested state.
	require.NoError(t, c.Request("Fill", true))
	time.Sleep(testWindow / 3)
	require.NoError(t, c.Request("Fill", false))

	ops := waitForOps(t, a, 1)
	time.Sleep(2 * testWindow)
	ops = a.took()
	require.Len(t, ops, 1)
	assert.False(t, ops[0].On)
	assert.Equal(t, model.ValveOff, c.States()["Fill"].Status)
}

func TestLateRequestKeepsWindowDeadline(t *testing.T) {
	c, a := newTestCoordinator()

	require.NoError(t, c.Request("Fill", true))
	first := c.States()["Fill"].PendingUntil
	require.NotNil(t, first)

	time.Sleep(testWindow / 3)
	require.NoError(t, c.Request("Fill", false))
	second := c.States()["Fill"].PendingUntil
	require.NotNil(t, second)
	assert.True(t, first.Equal(*second), "rewriting desired state must not extend the window")

	waitForOps(t, a, 1)
}

func TestRequestUnknownValve(t *testing.T) {
	c, _ := newTestCoordinator()
	err := c.Request("Mist", true)
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestActuationFailureMarksUnknown(t *testing.T) {
	c, a := newTestCoordinator()
	a.err = errors.New("serial write failed")

	var failed string
	done := make(chan struct{})
	c.OnError(func(valve string, _ error) {
		failed = valve
		close(done)
	})

	require.NoError(t, c.Request("Fill", true))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected error callback")
	}
	assert.Equal(t, "Fill", failed)
	assert.Equal(t, model.ValveUnknown, c.States()["Fill"].Status)
}

func TestObserveReconcilesIdleValve(t *testing.T) {
	c, _ := newTestCoordinator()

	c.Observe("Fill", true)
	assert.Equal(t, model.ValveOn, c.States()["Fill"].Status)

	// A hardware poll must not override a command in flight.
	require.NoError(t, c.Request("Fill", false))
	c.Observe("Fill", false)
	st := c.States()["Fill"]
	require.NotNil(t, st.PendingUntil)
	assert.Equal(t, model.ValveOn, st.Status, "poll during an open window is ignored")
}
