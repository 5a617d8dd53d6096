package model

// Range is an inclusive pH band inside which no dose is needed.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v falls inside the band.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// DosageStrength is ml of adjustment fluid per pH point of error.
type DosageStrength struct {
	PHUp   float64 `json:"ph_up"`
	PHDown float64 `json:"ph_down"`
}

// PumpCalibration converts ml to pump run time. Pump 1 dispenses pH-Up,
// pump 2 dispenses pH-Down.
type PumpCalibration struct {
	Pump1SecPerML float64 `json:"pump1_sec_per_ml"`
	Pump2SecPerML float64 `json:"pump2_sec_per_ml"`
}

// RelayPorts maps the two dosing pumps onto relay channels.
type RelayPorts struct {
	PHUp   int `json:"ph_up"`
	PHDown int `json:"ph_down"`
}

// DosingSettings is the operator-editable dosing configuration. The dosing
// controller only reads it; the settings store owns mutation.
type DosingSettings struct {
	PHTarget            float64         `json:"ph_target"`
	PHRange             Range           `json:"ph_range"`
	MaxDosingAmountML   float64         `json:"max_dosing_amount_ml"`
	DosingIntervalHours float64         `json:"dosing_interval_hours"`
	DosageStrength      DosageStrength  `json:"dosage_strength"`
	PumpCalibration     PumpCalibration `json:"pump_calibration"`
	RelayPorts          RelayPorts      `json:"relay_ports"`
	AutoDosingEnabled   bool            `json:"auto_dosing_enabled"`
}

// WaterSensorSettings describes one float sensor assignment.
type WaterSensorSettings struct {
	Label string `json:"label"`
	Pin   int    `json:"pin"`
}

// ValveAssignment binds a role (fill/drain) to a valve label, optionally on
// a remote zone. An empty Zone means the valve is on the local relay board.
type ValveAssignment struct {
	Valve string `json:"valve"`
	Zone  string `json:"zone,omitempty"`
}

// Settings is the full mutable settings document owned by the settings
// store. Static deployment concerns (serial ports, broker address) live in
// the TOML config instead.
type Settings struct {
	SystemName string         `json:"system_name"`
	Dosing     DosingSettings `json:"dosing"`

	// Valve relay channel -> display label.
	ValveLabels map[int]string `json:"valve_labels"`

	FillValve  ValveAssignment `json:"fill_valve"`
	DrainValve ValveAssignment `json:"drain_valve"`

	// Water level sensor roles; keys refer to WaterLevelSensors entries.
	FillSensor     string `json:"fill_sensor"`
	DrainSensor    string `json:"drain_sensor"`
	AutoFillSensor string `json:"auto_fill_sensor"` // "" disables auto fill

	WaterLevelSensors map[string]WaterSensorSettings `json:"water_level_sensors"`

	// Persisted dose bookkeeping, written back by the dosing controller.
	AutoDose AutoDoseState `json:"auto_dose_state"`
}

// DefaultSettings mirrors the factory settings document.
func DefaultSettings() Settings {
	return Settings{
		SystemName: "Zone 1",
		Dosing: DosingSettings{
			PHTarget:            5.8,
			PHRange:             Range{Min: 5.6, Max: 6.0},
			MaxDosingAmountML:   10,
			DosingIntervalHours: 1,
			DosageStrength:      DosageStrength{PHUp: 5.0, PHDown: 5.0},
			PumpCalibration:     PumpCalibration{Pump1SecPerML: 1.0, Pump2SecPerML: 1.0},
			RelayPorts:          RelayPorts{PHUp: 1, PHDown: 2},
		},
		ValveLabels: map[int]string{},
		WaterLevelSensors: map[string]WaterSensorSettings{
			"sensor1": {Label: "Full", Pin: 17},
			"sensor2": {Label: "3 Gal", Pin: 18},
			"sensor3": {Label: "Empty", Pin: 19},
		},
		FillSensor:  "sensor1",
		DrainSensor: "sensor3",
	}
}
