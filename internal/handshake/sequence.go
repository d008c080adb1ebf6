package handshake

import (
	"time"

	"github.com/srg/wearlink/internal/codec"
	"github.com/srg/wearlink/internal/sensor"
	"github.com/srg/wearlink/internal/transport"
)

// Acknowledgement and settle windows. The settle delays are protocol
// requirements: the device needs quiet time between range/bitmap writes
// and the next command on every transport, or it silently ignores them.
const (
	hardAckTimeout = 5 * time.Second
	openAckTimeout = 8 * time.Second
	softAckTimeout = 6 * time.Second
	writeSettle    = 150 * time.Millisecond
	stopSettle     = 100 * time.Millisecond
	finalSettle    = 500 * time.Millisecond
)

// Plan captures what the sequence builders need to know about the target:
// which transport semantics apply and how to address the device.
type Plan struct {
	Kind    transport.Kind
	Profile transport.Profile
	Address string
}

// hard degrades to send-and-forget on transports without acknowledgements.
func (p Plan) hard(name string, cmd codec.Command, timeout time.Duration) Step {
	if !p.Profile.AckBased {
		return Send(name, cmd)
	}
	return HardAck(name, cmd, timeout)
}

func (p Plan) soft(name string, cmd codec.Command, timeout time.Duration) Step {
	if !p.Profile.AckBased {
		return Send(name, cmd)
	}
	return SoftAck(name, cmd, timeout)
}

// configArgs flattens the sensor configuration into command arguments the
// codec can encode for its transport.
func configArgs(cfg sensor.Configuration, rateHz float64) map[string]any {
	return map[string]any{
		"accelLowNoise":  cfg.AccelLowNoise,
		"accelWideRange": cfg.AccelWideRange,
		"gyro":           cfg.Gyro,
		"mag":            cfg.Mag,
		"pressureTemp":   cfg.PressureTemp,
		"battery":        cfg.Battery,
		"extA6":          cfg.ExtA6,
		"extA7":          cfg.ExtA7,
		"extA15":         cfg.ExtA15,
		"exg":            cfg.ExgEnabled,
		"samplingRate":   rateHz,
	}
}

func rangeArgs(cfg sensor.Configuration) map[string]any {
	return map[string]any{
		"accelRange": cfg.AccelRange,
		"gyroRange":  cfg.GyroRange,
	}
}

// exgMode names the active EXG front-end mode; an enabled bundle with no
// mode selected runs the front end in its "off" pass-through mode.
func exgMode(cfg sensor.Configuration) string {
	switch {
	case cfg.ExgECG:
		return "ecg"
	case cfg.ExgEMG:
		return "emg"
	case cfg.ExgTest:
		return "test"
	case cfg.ExgRespiration:
		return "respiration"
	}
	return "off"
}

func exgArgs(cfg sensor.Configuration) map[string]any {
	return map[string]any{"mode": exgMode(cfg)}
}

// bridgeConfigArgs carries the complete configuration. The bridge's config
// envelope is its only configuration write - there are no separate
// set_ranges/set_exg/set_low_power envelopes - so the front-end ranges, EXG
// mode and low-power flag ride along with the channel bitmap.
func bridgeConfigArgs(cfg sensor.Configuration, rateHz float64) map[string]any {
	args := configArgs(cfg, rateHz)
	args["exgMode"] = exgMode(cfg)
	args["accelRange"] = cfg.AccelRange
	args["gyroRange"] = cfg.GyroRange
	args["lowPower"] = cfg.LowPower
	return args
}

// Configure builds the configure-phase sequence.
//
// The bridge speaks session envelopes: hello, open(mac), config. The byte
// transports speak the device's own command set: stop whatever is already
// streaming, flush, best-effort inquiry/calibration, then the volatile
// configuration writes with settle time after each.
func Configure(plan Plan, cfg sensor.Configuration, rateHz float64) []Step {
	if plan.Kind == transport.KindBridge {
		return []Step{
			plan.hard("hello", codec.Command{Name: "hello"}, hardAckTimeout),
			plan.hard("open", codec.Command{Name: "open", Args: map[string]any{"mac": plan.Address}}, openAckTimeout),
			plan.soft("config", codec.Command{Name: "config", Args: bridgeConfigArgs(cfg, rateHz)}, softAckTimeout),
			Settle("final_settle", writeSettle),
		}
	}

	steps := []Step{
		// The device may already be streaming from a previous session;
		// stop is repeated because the first one can be swallowed by an
		// in-flight sample frame.
		Send("stop", codec.Command{Name: "stop"}),
		Send("stop_again", codec.Command{Name: "stop"}).WithSettle(stopSettle),
		Drain("drain_input"),
		plan.soft("inquiry", codec.Command{Name: "inquiry"}, softAckTimeout),
		plan.soft("read_calibration", codec.Command{Name: "read_calibration"}, softAckTimeout),
		plan.hard("sensor_bitmap", codec.Command{Name: "set_sensors", Args: configArgs(cfg, rateHz)}, hardAckTimeout).WithSettle(writeSettle),
		plan.hard("sensor_ranges", codec.Command{Name: "set_ranges", Args: rangeArgs(cfg)}, hardAckTimeout).WithSettle(writeSettle),
		Send("low_power", codec.Command{Name: "set_low_power", Args: map[string]any{"enabled": cfg.LowPower}}),
	}
	if cfg.ExgEnabled {
		steps = append(steps,
			plan.hard("exg_config", codec.Command{Name: "set_exg", Args: exgArgs(cfg)}, hardAckTimeout).WithSettle(writeSettle))
	}
	return append(steps, Settle("final_settle", finalSettle))
}

// Start builds the pre-stream + start sequence. The drain and the
// bitmap/range reassertion are not optional: several transports reset the
// volatile sensor configuration while idle, so it is re-written before
// every start.
func Start(plan Plan, cfg sensor.Configuration, rateHz float64) []Step {
	if plan.Kind == transport.KindBridge {
		return []Step{
			plan.hard("start", codec.Command{Name: "start"}, hardAckTimeout),
		}
	}
	return []Step{
		Drain("drain_input"),
		plan.hard("sensor_bitmap", codec.Command{Name: "set_sensors", Args: configArgs(cfg, rateHz)}, hardAckTimeout).WithSettle(writeSettle),
		plan.hard("sensor_ranges", codec.Command{Name: "set_ranges", Args: rangeArgs(cfg)}, hardAckTimeout).WithSettle(writeSettle),
		plan.hard("start", codec.Command{Name: "start"}, hardAckTimeout),
	}
}

// Stop builds the stop sequence. Every step is send-and-forget: failure
// to deliver stop must not block local cleanup.
func Stop(plan Plan) []Step {
	return []Step{
		Send("stop", codec.Command{Name: "stop"}),
	}
}
