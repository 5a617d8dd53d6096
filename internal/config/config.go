package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the static deployment configuration read once at startup.
// Operator-editable runtime state lives in the settings store instead.
type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	Serial    SerialConfig    `toml:"serial"`
	GPIO      GPIOConfig      `toml:"gpio"`
	MQTT      MQTTConfig      `toml:"mqtt"`
	Influx    InfluxConfig    `toml:"influx"`
	Storage   StorageConfig   `toml:"storage"`
	Control   ControlConfig   `toml:"control"`
	Peers     []PeerConfig    `toml:"peers"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type HTTPConfig struct {
	Listen string `toml:"listen"`
}

// SerialConfig assigns USB serial devices to hardware roles. An empty path
// means the role has no device; the affected readings degrade to N/A.
type SerialConfig struct {
	PHProbePort    string `toml:"ph_probe_port"`
	ECProbePort    string `toml:"ec_probe_port"`
	ValveRelayPort string `toml:"valve_relay_port"`
	BaudRate       uint   `toml:"baud_rate"`
}

type GPIOConfig struct {
	Chip          string `toml:"chip"`
	PHUpPumpPin   int    `toml:"ph_up_pump_pin"`
	PHDownPumpPin int    `toml:"ph_down_pump_pin"`
}

type MQTTConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	ClientID string `toml:"client_id"`
	Topic    string `toml:"topic"`
}

func (m MQTTConfig) Enabled() bool { return m.Host != "" }

type InfluxConfig struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	Org    string `toml:"org"`
	Bucket string `toml:"bucket"`
}

func (i InfluxConfig) Enabled() bool { return i.URL != "" }

type StorageConfig struct {
	SettingsPath string `toml:"settings_path"`
	HistoryPath  string `toml:"history_path"`
}

type ControlConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	DebounceSeconds     int `toml:"debounce_seconds"`
	TickSeconds         int `toml:"tick_seconds"`
}

func (c ControlConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c ControlConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

func (c ControlConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// PeerConfig names a remote zone whose status this node mirrors.
type PeerConfig struct {
	Name string `toml:"name"`
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

func (p PeerConfig) Addr() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

type TelemetryConfig struct {
	// Cron spec for the periodic probe log written to Influx.
	ReadingLogSchedule string `toml:"reading_log_schedule"`
}

// Load reads the TOML file at path and applies env overrides for secrets.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	cfg.MQTT.Host = env("MQTT_HOST", cfg.MQTT.Host)
	cfg.MQTT.Port = envInt("MQTT_PORT", cfg.MQTT.Port)
	cfg.MQTT.User = env("MQTT_USER", cfg.MQTT.User)
	cfg.MQTT.Password = env("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.Influx.URL = env("INFLUX_URL", cfg.Influx.URL)
	cfg.Influx.Token = env("INFLUX_TOKEN", cfg.Influx.Token)
	cfg.Influx.Org = env("INFLUX_ORG", cfg.Influx.Org)
	cfg.Influx.Bucket = env("INFLUX_BUCKET", cfg.Influx.Bucket)

	if cfg.Control.PollIntervalSeconds <= 0 {
		cfg.Control.PollIntervalSeconds = 5
	}
	if cfg.Control.DebounceSeconds <= 0 {
		cfg.Control.DebounceSeconds = 5
	}
	if cfg.Control.TickSeconds <= 0 {
		cfg.Control.TickSeconds = 5
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		HTTP:   HTTPConfig{Listen: ":8000"},
		Serial: SerialConfig{BaudRate: 9600},
		GPIO:   GPIOConfig{Chip: "gpiochip0", PHUpPumpPin: 23, PHDownPumpPin: 24},
		MQTT:   MQTTConfig{Port: 1883, ClientID: "hydrozone", Topic: "hydrozone/events"},
		Storage: StorageConfig{
			SettingsPath: "data/settings.json",
			HistoryPath:  "data/hydrozone.db",
		},
		Control: ControlConfig{
			PollIntervalSeconds: 5,
			DebounceSeconds:     5,
			TickSeconds:         5,
		},
		Telemetry: TelemetryConfig{ReadingLogSchedule: "0 */6 * * *"},
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
