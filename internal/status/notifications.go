package status

import (
	"sort"
	"sync"
	"time"

	"github.com/openhydro/hydrozone/internal/model"
)

type notifKey struct {
	device string
	key    string
}

// Registry deduplicates device notifications on (device, key). Re-raising
// an already-active condition with the same state is a no-op; only real
// transitions update the entry and fire the change callback.
type Registry struct {
	mu       sync.Mutex
	active   map[notifKey]model.Notification
	now      func() time.Time
	onChange func()
}

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[notifKey]model.Notification),
		now:    time.Now,
	}
}

// OnChange registers a callback fired on every raise/clear transition.
func (r *Registry) OnChange(fn func()) { r.onChange = fn }

// Raise records a condition. Returns true when this was a transition.
func (r *Registry) Raise(device, key, state, message string) bool {
	k := notifKey{device: device, key: key}
	r.mu.Lock()
	if cur, ok := r.active[k]; ok && cur.State == state {
		r.mu.Unlock()
		return false
	}
	r.active[k] = model.Notification{
		Device:    device,
		Key:       key,
		State:     state,
		Message:   message,
		Timestamp: r.now(),
	}
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange()
	}
	return true
}

// Clear removes a condition. Returns true when it was present.
func (r *Registry) Clear(device, key string) bool {
	k := notifKey{device: device, key: key}
	r.mu.Lock()
	_, ok := r.active[k]
	delete(r.active, k)
	r.mu.Unlock()
	if ok && r.onChange != nil {
		r.onChange()
	}
	return ok
}

// Active returns the current conditions ordered by device then key.
func (r *Registry) Active() []model.Notification {
	r.mu.Lock()
	out := make([]model.Notification, 0, len(r.active))
	for _, n := range r.active {
		out = append(out, n)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Key < out[j].Key
	})
	return out
}
