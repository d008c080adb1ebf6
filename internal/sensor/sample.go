package sensor

import "sort"

// Channel identifies one decoded data channel of the device.
type Channel string

const (
	AccelLNX    Channel = "accel_ln.x"
	AccelLNY    Channel = "accel_ln.y"
	AccelLNZ    Channel = "accel_ln.z"
	AccelWRX    Channel = "accel_wr.x"
	AccelWRY    Channel = "accel_wr.y"
	AccelWRZ    Channel = "accel_wr.z"
	GyroX       Channel = "gyro.x"
	GyroY       Channel = "gyro.y"
	GyroZ       Channel = "gyro.z"
	MagX        Channel = "mag.x"
	MagY        Channel = "mag.y"
	MagZ        Channel = "mag.z"
	Pressure    Channel = "pressure"
	Temperature Channel = "temperature"
	Battery     Channel = "battery"
	ExtA6       Channel = "ext.a6"
	ExtA7       Channel = "ext.a7"
	ExtA15      Channel = "ext.a15"
	Exg1Ch1     Channel = "exg1.ch1"
	Exg1Ch2     Channel = "exg1.ch2"
	Exg2Ch1     Channel = "exg2.ch1"
	Exg2Ch2     Channel = "exg2.ch2"
)

// RawSample is the transport-facing sample shape: an opaque key/value map
// whose keys are whatever the transport's codec produced (vendor cluster
// names, JSON field paths). The normalizer maps it onto channels.
type RawSample struct {
	// Timestamp is the device's monotonic sample counter, not wall clock.
	Timestamp uint32
	Values    map[string]float64
}

// UnifiedSample is the transport-agnostic sample record delivered to
// callers. A channel value is present only if the channel was enabled in
// the active configuration and decodable in this frame. Immutable after
// construction.
type UnifiedSample struct {
	ts     uint32
	values map[Channel]float64
}

// NewUnifiedSample copies values so the sample cannot be mutated through
// the source map after dispatch.
func NewUnifiedSample(ts uint32, values map[Channel]float64) UnifiedSample {
	cp := make(map[Channel]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return UnifiedSample{ts: ts, values: cp}
}

// Timestamp returns the device-relative sample counter.
func (s UnifiedSample) Timestamp() uint32 { return s.ts }

// Value returns the channel value and whether it is present. Absence is
// distinct from a legitimate zero reading.
func (s UnifiedSample) Value(ch Channel) (float64, bool) {
	v, ok := s.values[ch]
	return v, ok
}

// Has reports whether ch is present in this sample.
func (s UnifiedSample) Has(ch Channel) bool {
	_, ok := s.values[ch]
	return ok
}

// Channels returns the present channels in stable order.
func (s UnifiedSample) Channels() []Channel {
	out := make([]Channel, 0, len(s.values))
	for ch := range s.values {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
