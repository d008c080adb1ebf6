package sensor

import (
	"fmt"
	"math"
)

// Configuration selects which channels the device samples and how the
// analog front ends are set up. It is validated once by the session
// orchestrator and then treated as immutable for the lifetime of a connect.
type Configuration struct {
	AccelLowNoise  bool // low-noise accelerometer (x/y/z)
	AccelWideRange bool // wide-range accelerometer (x/y/z)
	Gyro           bool
	Mag            bool
	PressureTemp   bool // barometer chip reports both pressure and temperature
	Battery        bool
	ExtA6          bool // external ADC line A6
	ExtA7          bool
	ExtA15         bool

	// EXG bundle. The four mode flags are mutually exclusive; the EXG
	// channels are only meaningful while the bundle is enabled.
	ExgEnabled     bool
	ExgECG         bool
	ExgEMG         bool
	ExgTest        bool
	ExgRespiration bool

	// Front-end ranges, passed through to the device during the handshake.
	AccelRange int
	GyroRange  int
	LowPower   bool
}

// ConfigError reports an invalid Configuration or sampling rate.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid sensor configuration: %s: %s", e.Field, e.Msg)
}

// Validate checks the EXG mutual-exclusion invariant and flag consistency.
func (c Configuration) Validate() error {
	modes := 0
	for _, on := range []bool{c.ExgECG, c.ExgEMG, c.ExgTest, c.ExgRespiration} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return &ConfigError{Field: "exg", Msg: "at most one EXG mode may be enabled"}
	}
	if modes == 1 && !c.ExgEnabled {
		return &ConfigError{Field: "exg", Msg: "EXG mode set but EXG bundle is disabled"}
	}
	// An enabled bundle with no mode is legal: the front end runs in its
	// pass-through ("off") mode.
	return nil
}

// EnabledChannels returns the channels a valid configuration produces,
// in canonical order.
func (c Configuration) EnabledChannels() []Channel {
	var out []Channel
	add := func(on bool, chs ...Channel) {
		if on {
			out = append(out, chs...)
		}
	}
	add(c.AccelLowNoise, AccelLNX, AccelLNY, AccelLNZ)
	add(c.AccelWideRange, AccelWRX, AccelWRY, AccelWRZ)
	add(c.Gyro, GyroX, GyroY, GyroZ)
	add(c.Mag, MagX, MagY, MagZ)
	add(c.PressureTemp, Pressure, Temperature)
	add(c.Battery, Battery)
	add(c.ExtA6, ExtA6)
	add(c.ExtA7, ExtA7)
	add(c.ExtA15, ExtA15)
	add(c.ExgEnabled, Exg1Ch1, Exg1Ch2, Exg2Ch1, Exg2Ch2)
	return out
}

// Enabled reports whether ch is produced by this configuration.
func (c Configuration) Enabled(ch Channel) bool {
	for _, e := range c.EnabledChannels() {
		if e == ch {
			return true
		}
	}
	return false
}

// SupportedRates lists the discrete sampling rates the device clock divider
// can produce, in Hz.
var SupportedRates = []float64{25.6, 51.2, 102.4, 204.8, 256.0, 512.0, 1024.0}

// ValidateRate checks rateHz against the device-supported rate table.
func ValidateRate(rateHz float64) error {
	for _, r := range SupportedRates {
		if math.Abs(r-rateHz) < 1e-6 {
			return nil
		}
	}
	return &ConfigError{Field: "sampling_rate", Msg: fmt.Sprintf("%.1f Hz is not a supported rate", rateHz)}
}
