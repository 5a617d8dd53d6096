package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/model"
)

// AtlasProbe speaks the Atlas Scientific EZO serial protocol: commands are
// CR-terminated ASCII, replies are a data line and/or "*OK" / "*ER".
type AtlasProbe struct {
	port string
	baud uint
	log  zerolog.Logger

	// Valid reading bounds; samples outside are discarded as line noise.
	min, max float64

	mu   sync.Mutex
	conn io.ReadWriteCloser
	rd   *bufio.Reader
}

// NewAtlasProbe builds a probe driver for the given serial device. Bounds
// constrain what counts as a plausible sample (pH 0..14, EC 0..100000).
func NewAtlasProbe(port string, baud uint, min, max float64, log zerolog.Logger) *AtlasProbe {
	return &AtlasProbe{port: port, baud: baud, min: min, max: max, log: log}
}

func (p *AtlasProbe) ensureOpen() error {
	if p.conn != nil {
		return nil
	}
	conn, err := serial.Open(serial.OpenOptions{
		PortName:        p.port,
		BaudRate:        p.baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", model.ErrDeviceUnavailable, p.port, err)
	}
	p.conn = conn
	p.rd = bufio.NewReader(conn)
	p.log.Info().Str("port", p.port).Msg("probe serial port opened")
	return nil
}

func (p *AtlasProbe) dropConn() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
		p.rd = nil
	}
}

// command sends one command and collects reply lines until the probe acks
// with *OK or *ER. The data line (if any) is returned without the ack.
func (p *AtlasProbe) command(ctx context.Context, cmd string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureOpen(); err != nil {
		return "", err
	}
	if _, err := p.conn.Write([]byte(cmd + "\r")); err != nil {
		p.dropConn()
		return "", fmt.Errorf("%w: write %q: %v", model.ErrDeviceUnavailable, cmd, err)
	}

	var data string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := p.rd.ReadString('\r')
		if err != nil {
			p.dropConn()
			return "", fmt.Errorf("%w: read reply to %q: %v", model.ErrDeviceUnavailable, cmd, err)
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "*OK":
			return data, nil
		case line == "*ER":
			return "", fmt.Errorf("probe rejected command %q", cmd)
		default:
			data = line
		}
	}
}

func (p *AtlasProbe) Read(ctx context.Context) (float64, error) {
	line, err := p.command(ctx, "R")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable sample %q: %w", line, err)
	}
	if v < p.min || v > p.max {
		return 0, fmt.Errorf("sample %.2f outside plausible range [%.2f, %.2f]", v, p.min, p.max)
	}
	return v, nil
}

func (p *AtlasProbe) Calibrate(ctx context.Context, point model.CalibrationPoint, value float64) error {
	var cmd string
	if point == model.PointDry {
		cmd = "Cal,dry"
	} else {
		cmd = fmt.Sprintf("Cal,%s,%.2f", point, value)
	}
	if _, err := p.command(ctx, cmd); err != nil {
		return err
	}
	p.log.Info().Str("port", p.port).Str("cmd", cmd).Msg("calibration command accepted")
	return nil
}

func (p *AtlasProbe) ClearCalibration(ctx context.Context) error {
	_, err := p.command(ctx, "Cal,clear")
	return err
}

func (p *AtlasProbe) CalibrationPoints(ctx context.Context) (int, error) {
	line, err := p.command(ctx, "Cal,?")
	if err != nil {
		return 0, err
	}
	// Reply looks like "?CAL,2".
	i := strings.LastIndexByte(line, ',')
	if i < 0 {
		return 0, fmt.Errorf("unexpected calibration status %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[i+1:]))
	if err != nil {
		return 0, fmt.Errorf("unexpected calibration status %q: %w", line, err)
	}
	return n, nil
}

// Close releases the serial port.
func (p *AtlasProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.rd = nil
	return err
}
