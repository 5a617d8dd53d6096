package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/openhydro/hydrozone/internal/calibration"
	"github.com/openhydro/hydrozone/internal/config"
	"github.com/openhydro/hydrozone/internal/dosing"
	"github.com/openhydro/hydrozone/internal/driver"
	"github.com/openhydro/hydrozone/internal/history"
	"github.com/openhydro/hydrozone/internal/model"
	"github.com/openhydro/hydrozone/internal/sensor"
	"github.com/openhydro/hydrozone/internal/server"
	"github.com/openhydro/hydrozone/internal/settings"
	"github.com/openhydro/hydrozone/internal/status"
	"github.com/openhydro/hydrozone/internal/telemetry"
	"github.com/openhydro/hydrozone/internal/valve"
	"github.com/openhydro/hydrozone/pkg/mqttbus"
)

func main() {
	configPath := flag.String("config", "hydrozone.toml", "path to the TOML config file")
	flag.Parse()

	log := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	store, err := settings.NewFileStore(cfg.Storage.SettingsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open settings store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, store, log); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("controller exited")
	}
	log.Info().Msg("shut down")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg config.Config, store settings.Store, log zerolog.Logger) error {
	doc := store.Get()

	// Hardware.
	var phProbe, ecProbe driver.Probe
	if cfg.Serial.PHProbePort != "" {
		phProbe = driver.NewAtlasProbe(cfg.Serial.PHProbePort, cfg.Serial.BaudRate, 0, 14, log.With().Str("component", "ph_probe").Logger())
	}
	if cfg.Serial.ECProbePort != "" {
		ecProbe = driver.NewAtlasProbe(cfg.Serial.ECProbePort, cfg.Serial.BaudRate, 0, 200, log.With().Str("component", "ec_probe").Logger())
	}

	var board *driver.ValveRelayBoard
	if cfg.Serial.ValveRelayPort != "" {
		board = driver.NewValveRelayBoard(cfg.Serial.ValveRelayPort, cfg.Serial.BaudRate, log.With().Str("component", "valve_relay").Logger())
	}

	pumpPins := map[int]int{
		doc.Dosing.RelayPorts.PHUp:   cfg.GPIO.PHUpPumpPin,
		doc.Dosing.RelayPorts.PHDown: cfg.GPIO.PHDownPumpPin,
	}
	pump := driver.NewPumpRelay(cfg.GPIO.Chip, pumpPins, log.With().Str("component", "pump_relay").Logger())
	defer pump.Close()

	// Sensor hub.
	sensors := sensor.NewHub(cfg.Control.PollInterval(), log.With().Str("component", "sensors").Logger())
	sensors.AssignPH(phProbe)
	sensors.AssignEC(ecProbe)
	levels := make(map[string]sensor.Level, len(doc.WaterLevelSensors))
	for name, ws := range doc.WaterLevelSensors {
		levels[name] = sensor.Level{Label: ws.Label, Sensor: driver.NewFloatSensor(cfg.GPIO.Chip, ws.Pin)}
	}
	sensors.AssignLevels(levels)

	// Valve coordinator and safety loop.
	coord := valve.NewCoordinator(cfg.Control.DebounceWindow(), log.With().Str("component", "valves").Logger())
	if board != nil {
		for channel, label := range doc.ValveLabels {
			coord.Register(label, label, channel, board)
		}
	}
	safety := valve.NewSafety(store, sensors, coord, log.With().Str("component", "safety").Logger())

	// Persistence.
	hist, err := history.Open(cfg.Storage.HistoryPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	// Control.
	feeding := dosing.NewFeeding()
	ctrl := dosing.NewController(store, sensors, pump, feeding, hist, log.With().Str("component", "dosing").Logger())
	ctrl.SetTickInterval(cfg.Control.Tick())

	calib := calibration.NewManager(log.With().Str("component", "calibration").Logger())
	calib.Assign(model.ProbePH, phProbe)
	calib.Assign(model.ProbeEC, ecProbe)
	calib.SetRecorder(hist)

	// Status fan-out.
	registry := status.NewRegistry()
	hub := status.NewHub(store, sensors, coord, feeding, registry, log.With().Str("component", "status").Logger())

	for _, pc := range cfg.Peers {
		peer := status.NewPeer(pc.Name, pc.Addr(), log)
		hub.AddPeer(pc.Name, peer)
		go peer.Run(ctx)
	}

	// A fill or drain valve may live on a peer zone.
	registerRemoteValve(hub, coord, doc.FillValve, log)
	registerRemoteValve(hub, coord, doc.DrainValve, log)

	sensors.OnChange(func() {
		safety.Check()
		watchProbes(sensors, phProbe, ecProbe, registry)
		hub.Invalidate()
	})
	coord.OnChange(hub.Invalidate)
	coord.OnError(func(name string, err error) {
		registry.Raise("valve", name, "error", err.Error())
	})
	feeding.OnChange(hub.Invalidate)
	ctrl.OnChange(hub.Invalidate)

	// Event sinks.
	notifier := &doseNotifier{log: log}
	if cfg.MQTT.Enabled() {
		client, err := mqttbus.Connect(ctx, mqttbus.Config{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("mqtt disabled, broker unreachable")
		} else {
			notifier.pub = mqttbus.NewPublisher(client, cfg.MQTT.Topic, log)
		}
	}
	if cfg.Influx.Enabled() {
		rl := telemetry.NewReadingLogger(
			cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket,
			doc.SystemName, cfg.Telemetry.ReadingLogSchedule, sensors,
			log.With().Str("component", "influx").Logger(),
		)
		if err := rl.Start(); err != nil {
			return fmt.Errorf("start reading logger: %w", err)
		}
		defer rl.Stop()
		notifier.influx = rl
	}
	ctrl.SetNotifier(notifier)

	go sensors.Run(ctx)
	go ctrl.Run(ctx)
	go hub.Run(ctx)
	if board != nil {
		go pollValveBoard(ctx, cfg.Control.PollInterval(), board, coord, store)
	}

	srv := server.New(cfg.HTTP.Listen, store, hub, coord, ctrl, feeding, calib, hist, log.With().Str("component", "http").Logger())
	return srv.Run(ctx)
}

func registerRemoteValve(hub *status.Hub, coord *valve.Coordinator, va model.ValveAssignment, log zerolog.Logger) {
	if va.Zone == "" || va.Valve == "" {
		return
	}
	peer := hub.Peer(va.Zone)
	if peer == nil {
		log.Warn().Str("zone", va.Zone).Str("valve", va.Valve).Msg("remote valve references unknown peer")
		return
	}
	coord.Register(va.Valve, va.Valve, 0, status.RemoteValve{Peer: peer, Name: va.Valve})
}

// watchProbes keeps the device notification registry in sync with probe
// availability.
func watchProbes(sensors *sensor.Hub, ph, ec driver.Probe, registry *status.Registry) {
	if ph != nil {
		if _, ok := sensors.PH(); ok {
			registry.Clear("ph_probe", "offline")
		} else {
			registry.Raise("ph_probe", "offline", "error", "pH probe not responding")
		}
	}
	if ec != nil {
		if _, ok := sensors.EC(); ok {
			registry.Clear("ec_probe", "offline")
		} else {
			registry.Raise("ec_probe", "offline", "error", "EC probe not responding")
		}
	}
}

// pollValveBoard reconciles coordinator state from the relay board so
// valves switched out-of-band still show their real position.
func pollValveBoard(ctx context.Context, interval time.Duration, board *driver.ValveRelayBoard, coord *valve.Coordinator, store settings.Store) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			states, err := board.States(ctx)
			if err != nil {
				continue
			}
			labels := store.Get().ValveLabels
			for channel, on := range states {
				if label, ok := labels[channel]; ok {
					coord.Observe(label, on)
				}
			}
		}
	}
}

type doseNotifier struct {
	log    zerolog.Logger
	pub    *mqttbus.Publisher
	influx *telemetry.ReadingLogger
}

func (n *doseNotifier) PublishDose(event model.DoseEvent) {
	if n.pub != nil {
		if err := n.pub.Publish(event); err != nil {
			n.log.Warn().Err(err).Msg("publish dose event")
		}
	}
	if n.influx != nil {
		n.influx.LogDose(event)
	}
}
