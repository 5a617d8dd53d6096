package telemetry

import (
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/model"
)

// ReadingSource is the slice of the sensor hub the logger samples.
type ReadingSource interface {
	PH() (model.Reading, bool)
	EC() (model.Reading, bool)
	WaterLevels() model.WaterLevelState
}

// ReadingLogger writes periodic sensor snapshots and dose events to
// InfluxDB on a cron schedule. Writes are asynchronous; the error
// listener keeps the timestamp of the last failed write for health
// reporting.
type ReadingLogger struct {
	log      zerolog.Logger
	client   influxdb2.Client
	api      api.WriteAPI
	source   ReadingSource
	system   string
	schedule string
	cron     *cron.Cron

	mu      sync.RWMutex
	lastErr time.Time
}

func NewReadingLogger(url, token, org, bucket, system, schedule string, source ReadingSource, log zerolog.Logger) *ReadingLogger {
	client := influxdb2.NewClient(url, token)
	rl := &ReadingLogger{
		log:      log,
		client:   client,
		api:      client.WriteAPI(org, bucket),
		source:   source,
		system:   system,
		schedule: schedule,
		lastErr:  time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range rl.api.Errors() {
			if err != nil {
				rl.mu.Lock()
				rl.lastErr = time.Now()
				rl.mu.Unlock()
				log.Error().Err(err).Msg("influx write error")
			}
		}
	}()
	return rl
}

// Start schedules the periodic snapshot writes.
func (rl *ReadingLogger) Start() error {
	rl.cron = cron.New()
	if _, err := rl.cron.AddFunc(rl.schedule, rl.Snapshot); err != nil {
		return err
	}
	rl.cron.Start()
	return nil
}

// Stop flushes pending writes and releases the client.
func (rl *ReadingLogger) Stop() {
	if rl.cron != nil {
		rl.cron.Stop()
	}
	rl.api.Flush()
	rl.client.Close()
}

// Snapshot writes one point per available reading.
func (rl *ReadingLogger) Snapshot() {
	now := time.Now()
	if ph, ok := rl.source.PH(); ok {
		rl.api.WritePoint(rl.point("ph", ph.Value, now))
	}
	if ec, ok := rl.source.EC(); ok {
		rl.api.WritePoint(rl.point("ec", ec.Value, now))
	}
	for name, lvl := range rl.source.WaterLevels() {
		v := 0.0
		if lvl.Triggered {
			v = 1.0
		}
		p := influxdb2.NewPoint("water_level",
			map[string]string{"system": rl.system, "sensor": name, "label": lvl.Label},
			map[string]interface{}{"triggered": v},
			now)
		rl.api.WritePoint(p)
	}
}

// LogDose records a completed dose event.
func (rl *ReadingLogger) LogDose(event model.DoseEvent) {
	p := influxdb2.NewPoint("dose",
		map[string]string{
			"system":  rl.system,
			"type":    string(event.Type),
			"trigger": string(event.TriggeredBy),
		},
		map[string]interface{}{
			"amount_ml":    event.AmountML,
			"duration_sec": event.DurationSec,
		},
		event.Time)
	rl.api.WritePoint(p)
}

func (rl *ReadingLogger) point(measurement string, value float64, ts time.Time) *write.Point {
	return influxdb2.NewPoint(measurement,
		map[string]string{"system": rl.system},
		map[string]interface{}{"value": value},
		ts)
}

// LastErrorAge reports how long ago the most recent write failure was.
func (rl *ReadingLogger) LastErrorAge() time.Duration {
	rl.mu.RLock()
	t := rl.lastErr
	rl.mu.RUnlock()
	return time.Since(t)
}
