package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhydro/hydrozone/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListDoses(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Truncate(time.Second)

	require.NoError(t, s.RecordDose(model.DoseEvent{
		Time: base, Type: model.DoseDown, AmountML: 2.5, DurationSec: 25, TriggeredBy: model.TriggerAuto,
	}))
	require.NoError(t, s.RecordDose(model.DoseEvent{
		Time: base.Add(time.Minute), Type: model.DoseUp, AmountML: 3, DurationSec: 30, TriggeredBy: model.TriggerManual,
	}))

	events, err := s.RecentDoses(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, model.DoseUp, events[0].Type)
	assert.Equal(t, model.TriggerManual, events[0].TriggeredBy)
	assert.Equal(t, model.DoseDown, events[1].Type)
	assert.InDelta(t, 2.5, events[1].AmountML, 0.001)
	assert.True(t, events[1].Time.Equal(base))
}

func TestRecentDosesRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordDose(model.DoseEvent{
			Time: time.Now(), Type: model.DoseDown, AmountML: 1, DurationSec: 10, TriggeredBy: model.TriggerAuto,
		}))
	}
	events, err := s.RecentDoses(3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestCalibrationLogPerProbe(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.RecordCalibration(model.ProbePH, model.CalibrationLogEntry{
		Time: now, Level: "ph", Outcome: model.CalibrationSuccess, Message: "calibrated mid point at 7.00",
	}))
	require.NoError(t, s.RecordCalibration(model.ProbeEC, model.CalibrationLogEntry{
		Time: now, Level: "ec", Outcome: model.CalibrationFailure, Message: "calibrate dry: probe timeout",
	}))

	ph, err := s.CalibrationLog(model.ProbePH, 10)
	require.NoError(t, err)
	require.Len(t, ph, 1)
	assert.Equal(t, model.CalibrationSuccess, ph[0].Outcome)

	ec, err := s.CalibrationLog(model.ProbeEC, 10)
	require.NoError(t, err)
	require.Len(t, ec, 1)
	assert.Contains(t, ec[0].Message, "probe timeout")
}
