package model

import (
	"time"
)

// Probe identifies one of the two supported measurement probes.
type Probe string

const (
	ProbePH Probe = "ph"
	ProbeEC Probe = "ec"
)

// DoseType indicates which adjustment fluid a dose dispenses.
type DoseType string

const (
	DoseUp   DoseType = "up"
	DoseDown DoseType = "down"
)

// DoseTrigger records what initiated a dose.
type DoseTrigger string

const (
	TriggerAuto   DoseTrigger = "auto"
	TriggerManual DoseTrigger = "manual"
)

// ValveStatus is the last known state of a valve relay channel.
type ValveStatus string

const (
	ValveOn      ValveStatus = "on"
	ValveOff     ValveStatus = "off"
	ValveUnknown ValveStatus = "unknown"
)

// Reading is the latest sample from a probe. Consumers should treat a
// reading older than the polling interval as unavailable.
type Reading struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Age returns how old the reading is relative to now.
func (r Reading) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// WaterLevel is the state of a single float sensor. Triggered means the
// sensor reports empty / water not present (NC switch pulled low).
type WaterLevel struct {
	Label     string `json:"label"`
	Triggered bool   `json:"triggered"`
}

// WaterLevelState maps sensor id to its current state. It is always
// replaced as a whole snapshot, never mutated per key.
type WaterLevelState map[string]WaterLevel

// ValveState is the coordinator's view of one named valve.
type ValveState struct {
	Label        string      `json:"label"`
	Status       ValveStatus `json:"status"`
	PendingUntil *time.Time  `json:"pending_until,omitempty"`
}

// FeedingState is the process-wide feeding flag. While active, dosing and
// outbound notifications are suppressed. It expires on its own at
// ExpiresAt even if never explicitly cleared.
type FeedingState struct {
	Active    bool      `json:"active"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// DoseEvent is one completed pump actuation.
type DoseEvent struct {
	Time        time.Time   `json:"time"`
	Type        DoseType    `json:"type"`
	AmountML    float64     `json:"amount_ml"`
	DurationSec float64     `json:"duration_sec"`
	TriggeredBy DoseTrigger `json:"triggered_by"`
}

// AutoDoseState is the dashboard-facing dose bookkeeping.
type AutoDoseState struct {
	LastDoseTime   *time.Time `json:"last_dose_time,omitempty"`
	LastDoseType   DoseType   `json:"last_dose_type,omitempty"`
	LastDoseAmount float64    `json:"last_dose_amount"`
	NextDoseTime   *time.Time `json:"next_dose_time,omitempty"`
}

// CalibrationPoint is one of the fixed reference points a probe accepts.
type CalibrationPoint string

const (
	PointLow  CalibrationPoint = "low"
	PointMid  CalibrationPoint = "mid"
	PointHigh CalibrationPoint = "high"
	PointDry  CalibrationPoint = "dry"
)

// CalibrationOutcome records whether the driver accepted a calibration.
type CalibrationOutcome string

const (
	CalibrationSuccess CalibrationOutcome = "success"
	CalibrationFailure CalibrationOutcome = "failure"
)

// CalibrationLogEntry is one entry in a probe's capped calibration log.
type CalibrationLogEntry struct {
	Time    time.Time          `json:"time"`
	Level   string             `json:"level"`
	Outcome CalibrationOutcome `json:"outcome"`
	Message string             `json:"message"`
}

// Notification is a deduplicated device status, e.g. a probe going offline.
type Notification struct {
	Device    string    `json:"device"`
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PeerStatus is the last known snapshot received from a remote zone.
type PeerStatus struct {
	Connected bool            `json:"connected"`
	Snapshot  *StatusSnapshot `json:"snapshot,omitempty"`
}

// StatusSnapshot is the composed status document sent to dashboards. It is
// built copy-on-publish: once handed to a subscriber it is never mutated.
type StatusSnapshot struct {
	SystemName  string                 `json:"system_name"`
	Seq         uint64                 `json:"seq"`
	GeneratedAt time.Time              `json:"generated_at"`
	PH          *Reading               `json:"current_ph,omitempty"`
	EC          *Reading               `json:"current_ec,omitempty"`
	WaterLevel  WaterLevelState        `json:"water_level"`
	Valves      map[string]ValveState  `json:"valves"`
	AutoDose    AutoDoseState          `json:"auto_dose_state"`
	Feeding     FeedingState           `json:"feeding_in_progress"`
	Dosing      DosingSettings         `json:"dosing_settings"`
	Errors      []Notification         `json:"errors"`
	Peers       map[string]*PeerStatus `json:"peers,omitempty"`
}
