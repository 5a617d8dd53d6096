package dosing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFeedingStartStop(t *testing.T) {
	f := NewFeeding()
	assert.False(t, f.Active())

	f.Start()
	assert.True(t, f.Active())
	st := f.State()
	assert.True(t, st.Active)
	assert.Equal(t, feedingCeiling, st.ExpiresAt.Sub(st.StartedAt))

	f.Stop()
	assert.False(t, f.Active())
	assert.True(t, f.State().StartedAt.IsZero())
}

func TestFeedingExpiresAtCeiling(t *testing.T) {
	f := NewFeeding()
	start := time.Now()
	f.now = func() time.Time { return start }
	f.Start()

	f.now = func() time.Time { return start.Add(feedingCeiling - time.Second) }
	assert.True(t, f.Active())

	f.now = func() time.Time { return start.Add(feedingCeiling) }
	assert.False(t, f.Active(), "the flag clears itself at the deadline")
	assert.False(t, f.Active(), "and stays cleared")
}

func TestFeedingRestartRearmsDeadline(t *testing.T) {
	f := NewFeeding()
	start := time.Now()
	f.now = func() time.Time { return start }
	f.Start()

	// Starting again mid-window pushes the deadline out.
	f.now = func() time.Time { return start.Add(time.Hour) }
	f.Start()

	f.now = func() time.Time { return start.Add(feedingCeiling + time.Minute) }
	assert.True(t, f.Active())
}

func TestFeedingChangeCallback(t *testing.T) {
	f := NewFeeding()
	calls := 0
	f.OnChange(func() { calls++ })

	f.Start()
	f.Stop()
	assert.Equal(t, 2, calls)
}
