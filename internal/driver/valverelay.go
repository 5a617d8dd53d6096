package driver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/model"
)

// ValveRelayBoard drives an 8-channel USB relay board. The wire protocol is
// a fixed 4-byte frame: 0xA0, channel, state, additive checksum. Writing
// 0xFF makes the board report the state of all 8 channels, one byte each.
type ValveRelayBoard struct {
	port string
	baud uint
	log  zerolog.Logger

	mu   sync.Mutex
	conn io.ReadWriteCloser
}

const relayChannels = 8

func NewValveRelayBoard(port string, baud uint, log zerolog.Logger) *ValveRelayBoard {
	return &ValveRelayBoard{port: port, baud: baud, log: log}
}

func (b *ValveRelayBoard) ensureOpen() error {
	if b.conn != nil {
		return nil
	}
	conn, err := serial.Open(serial.OpenOptions{
		PortName:        b.port,
		BaudRate:        b.baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", model.ErrDeviceUnavailable, b.port, err)
	}
	b.conn = conn
	b.log.Info().Str("port", b.port).Msg("valve relay board opened")
	return nil
}

func (b *ValveRelayBoard) dropConn() {
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}

func frame(channel int, on bool) []byte {
	state := byte(0)
	if on {
		state = 1
	}
	f := []byte{0xA0, byte(channel), state, 0}
	f[3] = f[0] + f[1] + f[2]
	return f
}

func (b *ValveRelayBoard) Set(ctx context.Context, channel int, on bool) error {
	if channel < 1 || channel > relayChannels {
		return fmt.Errorf("%w: relay channel %d out of range 1..%d", model.ErrConfiguration, channel, relayChannels)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureOpen(); err != nil {
		return err
	}
	if _, err := b.conn.Write(frame(channel, on)); err != nil {
		b.dropConn()
		return fmt.Errorf("%w: set channel %d: %v", model.ErrDeviceUnavailable, channel, err)
	}
	return nil
}

func (b *ValveRelayBoard) Energize(ctx context.Context, channel int, d time.Duration) error {
	if err := b.Set(ctx, channel, true); err != nil {
		return err
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	// The channel must never be left energized, context cancel included.
	if err := b.Set(context.Background(), channel, false); err != nil {
		return err
	}
	return ctx.Err()
}

// States polls the board for the state of all channels (1-based index).
func (b *ValveRelayBoard) States(ctx context.Context) (map[int]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	if _, err := b.conn.Write([]byte{0xFF}); err != nil {
		b.dropConn()
		return nil, fmt.Errorf("%w: status poll: %v", model.ErrDeviceUnavailable, err)
	}
	buf := make([]byte, relayChannels)
	if _, err := io.ReadFull(b.conn, buf); err != nil {
		b.dropConn()
		return nil, fmt.Errorf("%w: status read: %v", model.ErrDeviceUnavailable, err)
	}
	out := make(map[int]bool, relayChannels)
	for i, v := range buf {
		out[i+1] = v == 1
	}
	return out, nil
}

func (b *ValveRelayBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
