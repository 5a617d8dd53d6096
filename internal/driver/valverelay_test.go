package driver

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhydro/hydrozone/internal/model"
)

// fakePort records writes and serves canned reads in place of a serial
// connection.
type fakePort struct {
	wrote bytes.Buffer
	reads bytes.Buffer
}

func (f *fakePort) Write(p []byte) (int, error) { return f.wrote.Write(p) }
func (f *fakePort) Read(p []byte) (int, error)  { return f.reads.Read(p) }
func (f *fakePort) Close() error                { return nil }

func newTestBoard() (*ValveRelayBoard, *fakePort) {
	b := NewValveRelayBoard("/dev/null", 9600, zerolog.Nop())
	port := &fakePort{}
	b.conn = port
	return b, port
}

func TestFrameChecksum(t *testing.T) {
	f := frame(3, true)
	require.Len(t, f, 4)
	assert.Equal(t, byte(0xA0), f[0])
	assert.Equal(t, byte(3), f[1])
	assert.Equal(t, byte(1), f[2])
	assert.Equal(t, byte(0xA0+3+1), f[3])

	off := frame(8, false)
	assert.Equal(t, byte(0), off[2])
	assert.Equal(t, byte(0xA0+8), off[3])
}

func TestSetWritesFrame(t *testing.T) {
	b, port := newTestBoard()

	require.NoError(t, b.Set(context.Background(), 5, true))
	assert.Equal(t, frame(5, true), port.wrote.Bytes())
}

func TestSetRejectsBadChannel(t *testing.T) {
	b, _ := newTestBoard()

	require.ErrorIs(t, b.Set(context.Background(), 0, true), model.ErrConfiguration)
	require.ErrorIs(t, b.Set(context.Background(), 9, true), model.ErrConfiguration)
}

func TestEnergizeAlwaysSwitchesOff(t *testing.T) {
	b, port := newTestBoard()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the wait even starts

	err := b.Energize(ctx, 2, time.Hour)
	require.ErrorIs(t, err, context.Canceled)

	want := append(frame(2, true), frame(2, false)...)
	assert.Equal(t, want, port.wrote.Bytes())
}

func TestStatesParsesPoll(t *testing.T) {
	b, port := newTestBoard()
	port.reads.Write([]byte{1, 0, 0, 1, 0, 0, 0, 0})

	states, err := b.States(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, port.wrote.Bytes())
	assert.True(t, states[1])
	assert.False(t, states[2])
	assert.True(t, states[4])
	assert.Len(t, states, 8)
}
