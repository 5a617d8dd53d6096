// Package status composes the live status document and fans it out to
// local subscribers (websocket sessions) and the dashboards of peer zones.
// Components signal changes; the hub coalesces bursts into one publish.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/model"
	"github.com/openhydro/hydrozone/internal/settings"
	"github.com/openhydro/hydrozone/internal/telemetry"
)

// settleDelay is how long the hub waits after the first change signal
// before publishing, so a burst of related changes becomes one snapshot.
const settleDelay = 100 * time.Millisecond

// SensorSource feeds the snapshot's readings.
type SensorSource interface {
	PH() (model.Reading, bool)
	EC() (model.Reading, bool)
	WaterLevels() model.WaterLevelState
}

// ValveSource feeds valve states.
type ValveSource interface {
	States() map[string]model.ValveState
}

// FeedingSource feeds the feeding flag.
type FeedingSource interface {
	State() model.FeedingState
}

// Hub builds StatusSnapshots on demand and pushes them to subscribers.
// Subscriber channels hold one element; a slow reader only ever misses
// intermediate snapshots, never the latest.
type Hub struct {
	log           zerolog.Logger
	store         settings.Store
	sensors       SensorSource
	valves        ValveSource
	feeding       FeedingSource
	notifications *Registry

	now   func() time.Time
	dirty chan struct{}

	mu    sync.Mutex
	seq   uint64
	last  *model.StatusSnapshot
	subs  map[chan *model.StatusSnapshot]struct{}
	peers map[string]*Peer
}

func NewHub(store settings.Store, sensors SensorSource, valves ValveSource, feeding FeedingSource, notifications *Registry, log zerolog.Logger) *Hub {
	h := &Hub{
		log:           log,
		store:         store,
		sensors:       sensors,
		valves:        valves,
		feeding:       feeding,
		notifications: notifications,
		now:           time.Now,
		dirty:         make(chan struct{}, 1),
		subs:          make(map[chan *model.StatusSnapshot]struct{}),
		peers:         make(map[string]*Peer),
	}
	notifications.OnChange(h.Invalidate)
	return h
}

// AddPeer registers a remote zone whose status is merged into snapshots.
func (h *Hub) AddPeer(zone string, p *Peer) {
	h.mu.Lock()
	h.peers[zone] = p
	h.mu.Unlock()
	p.OnChange(h.Invalidate)
}

// Peer returns a registered remote zone client, or nil.
func (h *Hub) Peer(zone string) *Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[zone]
}

// Invalidate marks the status document stale. Safe from any goroutine;
// signals already pending are absorbed.
func (h *Hub) Invalidate() {
	select {
	case h.dirty <- struct{}{}:
	default:
	}
}

// Run publishes on change signals until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.dirty:
			select {
			case <-ctx.Done():
				return
			case <-time.After(settleDelay):
			}
			// Absorb anything raised during the settle window.
			select {
			case <-h.dirty:
			default:
			}
			h.Publish()
		}
	}
}

// Publish composes a fresh snapshot and fans it out.
func (h *Hub) Publish() *model.StatusSnapshot {
	snap := h.compose()

	h.mu.Lock()
	h.last = snap
	for ch := range h.subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale element so the reader gets the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	h.mu.Unlock()
	return snap
}

// Snapshot returns the last published snapshot, composing one if the hub
// has not published yet.
func (h *Hub) Snapshot() *model.StatusSnapshot {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last != nil {
		return last
	}
	return h.Publish()
}

// Subscribe registers a listener. The returned cancel function must be
// called when the listener goes away.
func (h *Hub) Subscribe() (<-chan *model.StatusSnapshot, func()) {
	ch := make(chan *model.StatusSnapshot, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *Hub) compose() *model.StatusSnapshot {
	cfg := h.store.Get()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	peers := make(map[string]*Peer, len(h.peers))
	for zone, p := range h.peers {
		peers[zone] = p
	}
	h.mu.Unlock()

	snap := &model.StatusSnapshot{
		SystemName:  cfg.SystemName,
		Seq:         seq,
		GeneratedAt: h.now(),
		WaterLevel:  h.sensors.WaterLevels(),
		Valves:      h.valves.States(),
		AutoDose:    cfg.AutoDose,
		Feeding:     h.feeding.State(),
		Dosing:      cfg.Dosing,
		Errors:      h.notifications.Active(),
	}
	if ph, ok := h.sensors.PH(); ok {
		snap.PH = &ph
		telemetry.PHGauge.Set(ph.Value)
	}
	if ec, ok := h.sensors.EC(); ok {
		snap.EC = &ec
		telemetry.ECGauge.Set(ec.Value)
	}
	for name, lvl := range snap.WaterLevel {
		v := 0.0
		if lvl.Triggered {
			v = 1.0
		}
		telemetry.WaterLevelTriggered.WithLabelValues(name).Set(v)
	}
	if len(peers) > 0 {
		snap.Peers = make(map[string]*model.PeerStatus, len(peers))
		for zone, p := range peers {
			snap.Peers[zone] = p.Status()
		}
	}
	return snap
}
