package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/config"
	"github.com/srg/wearlink/internal/sensor"
	"github.com/srg/wearlink/pkg/wearlink"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Connect to a device and print live samples",
	Example: `  wearlink stream --transport serial --address /dev/ttyUSB0 --sensors gyro
  wearlink stream --transport bridge --url ws://localhost:8765/device --address 00:06:66:AA:BB:CC --sensors gyro,lna --rate 51.2`,
	RunE: runStream,
}

func init() {
	f := streamCmd.Flags()
	f.String("config", "", "YAML config file")
	f.StringP("transport", "t", "", "Transport backend: serial, bluetooth, ble, bridge")
	f.StringP("address", "a", "", "Serial port path, Bluetooth MAC, or BLE address")
	f.String("url", "", "Bridge WebSocket URL")
	f.Int("baud", 0, "Serial baud rate")
	f.Float64P("rate", "r", 0, "Sampling rate in Hz")
	f.StringP("sensors", "s", "gyro", "Comma-separated channels: lna,wra,gyro,mag,presstemp,battery,a6,a7,a15,ecg,emg,exgtest,resp")
	f.DurationP("duration", "d", 0, "Stop after this long (0 = until interrupted)")
}

func runStream(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadStreamConfig(cmd)
	if err != nil {
		return err
	}
	sensors, _ := cmd.Flags().GetString("sensors")
	sensorCfg, err := parseSensors(sensors)
	if err != nil {
		return err
	}

	sess, err := wearlink.NewSession("cli", cfg, wearlink.Vendor{}, logger)
	if err != nil {
		return err
	}

	if err := sess.Configure(sensorCfg, cfg.SamplingRate); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer sess.Disconnect()

	chanColor := color.New(color.FgCyan)
	tsColor := color.New(color.Faint)
	sess.OnSample(func(s wearlink.Sample) {
		var sb strings.Builder
		sb.WriteString(tsColor.Sprintf("%10d", s.Timestamp()))
		for _, ch := range s.Channels() {
			v, _ := s.Value(ch)
			sb.WriteString("  ")
			sb.WriteString(chanColor.Sprint(string(ch)))
			sb.WriteString(fmt.Sprintf("=%.3f", v))
		}
		fmt.Println(sb.String())
	})

	if err := sess.StartStreaming(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	<-ctx.Done()
	if sess.IsConnected() {
		_ = sess.StopStreaming(cmd.Context())
	}
	stats := sess.Stats()
	fmt.Fprintf(os.Stderr, "samples=%d malformed=%d soft_ack_failures=%d\n",
		stats.Samples, stats.MalformedFrames, stats.SoftAckFailures)
	return nil
}

func loadStreamConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if v, _ := cmd.Flags().GetString("transport"); v != "" {
		cfg.Transport = v
	}
	if v, _ := cmd.Flags().GetString("address"); v != "" {
		cfg.Address = v
	}
	if v, _ := cmd.Flags().GetString("url"); v != "" {
		cfg.URL = v
	}
	if v, _ := cmd.Flags().GetInt("baud"); v != 0 {
		cfg.Baud = v
	}
	if v, _ := cmd.Flags().GetFloat64("rate"); v != 0 {
		cfg.SamplingRate = v
	}
	return cfg, nil
}

func parseSensors(list string) (sensor.Configuration, error) {
	var cfg sensor.Configuration
	for _, name := range strings.Split(list, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "lna":
			cfg.AccelLowNoise = true
		case "wra":
			cfg.AccelWideRange = true
		case "gyro":
			cfg.Gyro = true
		case "mag":
			cfg.Mag = true
		case "presstemp":
			cfg.PressureTemp = true
		case "battery":
			cfg.Battery = true
		case "a6":
			cfg.ExtA6 = true
		case "a7":
			cfg.ExtA7 = true
		case "a15":
			cfg.ExtA15 = true
		case "ecg":
			cfg.ExgEnabled, cfg.ExgECG = true, true
		case "emg":
			cfg.ExgEnabled, cfg.ExgEMG = true, true
		case "exgtest":
			cfg.ExgEnabled, cfg.ExgTest = true, true
		case "resp":
			cfg.ExgEnabled, cfg.ExgRespiration = true, true
		default:
			return cfg, fmt.Errorf("unknown sensor %q", name)
		}
	}
	return cfg, cfg.Validate()
}
