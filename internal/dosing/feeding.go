package dosing

import (
	"sync"
	"time"

	"github.com/openhydro/hydrozone/internal/model"
)

// feedingCeiling caps how long the feeding flag can stay set. A client
// that forgets to clear it must not suppress dosing forever.
const feedingCeiling = 2 * time.Hour

// Feeding is the process-wide feeding-in-progress flag. Expiry is decided
// by comparing the stored deadline against the clock on every check; there
// is no background timer to leak.
type Feeding struct {
	mu       sync.Mutex
	active   bool
	started  time.Time
	expires  time.Time
	now      func() time.Time
	onChange func()
}

func NewFeeding() *Feeding {
	return &Feeding{now: time.Now}
}

// OnChange registers a callback fired on start/stop (not on lazy expiry).
func (f *Feeding) OnChange(fn func()) { f.onChange = fn }

// Start raises the flag and arms the auto-expiry deadline.
func (f *Feeding) Start() {
	f.mu.Lock()
	now := f.now()
	f.active = true
	f.started = now
	f.expires = now.Add(feedingCeiling)
	f.mu.Unlock()
	if f.onChange != nil {
		f.onChange()
	}
}

// Stop clears the flag.
func (f *Feeding) Stop() {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
	if f.onChange != nil {
		f.onChange()
	}
}

// Active reports whether feeding is in progress, expiring the flag first
// if its deadline has passed.
func (f *Feeding) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active && !f.now().Before(f.expires) {
		f.active = false
	}
	return f.active
}

// State returns a copy for the status document.
func (f *Feeding) State() model.FeedingState {
	active := f.Active()
	f.mu.Lock()
	defer f.mu.Unlock()
	st := model.FeedingState{Active: active}
	if active {
		st.StartedAt = f.started
		st.ExpiresAt = f.expires
	}
	return st
}
