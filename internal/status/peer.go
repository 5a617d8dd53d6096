package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/openhydro/hydrozone/internal/model"
	"github.com/openhydro/hydrozone/internal/telemetry"
)

const (
	peerReadDeadline  = 30 * time.Second
	peerPingInterval  = 10 * time.Second
	peerCommandLimit  = 5 * time.Second
	peerMaxRetryDelay = 60 * time.Second
)

// Peer maintains a live view of one remote zone. Snapshots arrive over a
// websocket that reconnects with exponential backoff; valve commands go
// out over REST behind a circuit breaker so a dead peer fails fast
// instead of hanging callers.
type Peer struct {
	zone string
	host string
	log  zerolog.Logger

	http *http.Client
	cb   *gobreaker.CircuitBreaker

	mu        sync.Mutex
	connected bool
	lastSnap  *model.StatusSnapshot
	onChange  func()
}

func NewPeer(zone, host string, log zerolog.Logger) *Peer {
	return &Peer{
		zone: zone,
		host: host,
		log:  log.With().Str("peer", zone).Logger(),
		http: &http.Client{Timeout: peerCommandLimit},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "peer-" + zone,
			Interval: 60 * time.Second,
			Timeout:  15 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}
}

// OnChange registers a callback fired when the peer's view changes.
func (p *Peer) OnChange(fn func()) { p.onChange = fn }

// Status returns the last known state of the remote zone.
func (p *Peer) Status() *model.PeerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &model.PeerStatus{Connected: p.connected, Snapshot: p.lastSnap}
}

// Run subscribes to the peer's status stream until the context is
// cancelled, reconnecting with exponential backoff.
func (p *Peer) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = peerMaxRetryDelay
	bo.MaxElapsedTime = 0 // retry forever

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := p.dial(ctx)
		if err != nil {
			p.setConnected(false)
			wait := bo.NextBackOff()
			p.log.Debug().Err(err).Dur("retry_in", wait).Msg("peer dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		p.setConnected(true)
		p.log.Info().Msg("peer connected")
		p.consume(ctx, conn)
		conn.Close()
		p.setConnected(false)
		p.log.Warn().Msg("peer disconnected")
	}
}

func (p *Peer) dial(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: p.host, Path: "/api/status/ws"}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

func (p *Peer) consume(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(peerReadDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(peerReadDeadline))
		})
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(peerReadDeadline))
			var snap model.StatusSnapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				p.log.Warn().Err(err).Msg("bad peer snapshot")
				continue
			}
			p.mu.Lock()
			p.lastSnap = &snap
			p.mu.Unlock()
			if p.onChange != nil {
				p.onChange()
			}
		}
	}()

	ticker := time.NewTicker(peerPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Peer) setConnected(up bool) {
	p.mu.Lock()
	changed := p.connected != up
	p.connected = up
	p.mu.Unlock()
	v := 0.0
	if up {
		v = 1.0
	}
	telemetry.PeerConnected.WithLabelValues(p.zone).Set(v)
	if changed && p.onChange != nil {
		p.onChange()
	}
}

// SetValve drives a named valve on the remote zone.
func (p *Peer) SetValve(ctx context.Context, name string, on bool) error {
	action := "off"
	if on {
		action = "on"
	}
	_, err := p.cb.Execute(func() (interface{}, error) {
		u := fmt.Sprintf("http://%s/api/valves/%s/%s", p.host, url.PathEscape(name), action)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return nil, fmt.Errorf("peer returned %s", resp.Status)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s valve %s: %v", model.ErrPeerUnreachable, p.zone, name, err)
	}
	return nil
}

// RemoteValve adapts one named valve on this peer to the actuator shape
// the valve coordinator drives. The relay channel is local-only detail
// and is ignored.
type RemoteValve struct {
	Peer *Peer
	Name string
}

func (r RemoteValve) Set(ctx context.Context, _ int, on bool) error {
	return r.Peer.SetValve(ctx, r.Name, on)
}
