package sensor

import "strings"

// Normalizer maps transport-specific RawSample keys onto channels. The raw
// key shapes differ per transport (vendor cluster names, JSON field paths,
// fixed-offset labels), so the first frame of a session resolves a key for
// each enabled channel and the mapping is cached for subsequent frames.
//
// Normalizer is not safe for concurrent use; each session's read loop owns
// exactly one.
type Normalizer struct {
	keys map[Channel]string
}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Reset discards the cached key mapping. Called on a fresh connect, since a
// different transport may present different raw keys.
func (n *Normalizer) Reset() {
	n.keys = nil
}

// Normalize produces a UnifiedSample containing a value for each channel
// that is enabled in cfg and decodable from raw. Channels that cannot be
// extracted are emitted as absent, never as zero.
func (n *Normalizer) Normalize(raw RawSample, cfg Configuration) UnifiedSample {
	if n.keys == nil {
		n.keys = resolveKeys(raw)
	}
	values := make(map[Channel]float64)
	for _, ch := range cfg.EnabledChannels() {
		key, ok := n.keys[ch]
		if !ok {
			continue
		}
		if v, ok := raw.Values[key]; ok {
			values[ch] = v
		}
	}
	return NewUnifiedSample(raw.Timestamp, values)
}

// resolveKeys builds the channel -> raw key mapping from the first frame.
func resolveKeys(raw RawSample) map[Channel]string {
	byCanon := make(map[string]string, len(raw.Values))
	for key := range raw.Values {
		byCanon[canonicalKey(key)] = key
	}
	keys := make(map[Channel]string)
	for ch, aliases := range channelAliases {
		for _, alias := range aliases {
			if key, ok := byCanon[alias]; ok {
				keys[ch] = key
				break
			}
		}
	}
	return keys
}

// canonicalKey folds case and separators so that "Gyroscope X", "gyro.x"
// and "GYRO_X" compare equal.
func canonicalKey(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '_', '-':
			return -1
		}
		return r
	}, s)
}

// channelAliases lists the canonicalized raw key spellings observed per
// channel across the transports: bridge JSON paths, vendor cluster names
// and the abbreviated binary-offset labels.
var channelAliases = map[Channel][]string{
	AccelLNX:    {"lnax", "accellnx", "lownoiseaccelerometerx", "accelx"},
	AccelLNY:    {"lnay", "accellny", "lownoiseaccelerometery", "accely"},
	AccelLNZ:    {"lnaz", "accellnz", "lownoiseaccelerometerz", "accelz"},
	AccelWRX:    {"wrax", "accelwrx", "widerangeaccelerometerx"},
	AccelWRY:    {"wray", "accelwry", "widerangeaccelerometery"},
	AccelWRZ:    {"wraz", "accelwrz", "widerangeaccelerometerz"},
	GyroX:       {"gyrox", "gyroscopex"},
	GyroY:       {"gyroy", "gyroscopey"},
	GyroZ:       {"gyroz", "gyroscopez"},
	MagX:        {"magx", "magnetometerx"},
	MagY:        {"magy", "magnetometery"},
	MagZ:        {"magz", "magnetometerz"},
	Pressure:    {"press", "pressure"},
	Temperature: {"temp", "temperature"},
	Battery:     {"vbatt", "battery", "batteryvoltage"},
	ExtA6:       {"exta6", "externaladca6", "a6"},
	ExtA7:       {"exta7", "externaladca7", "a7"},
	ExtA15:      {"exta15", "externaladca15", "a15"},
	Exg1Ch1:     {"exg1ch1", "exg1sta", "ecgllra"},
	Exg1Ch2:     {"exg1ch2", "ecglara"},
	Exg2Ch1:     {"exg2ch1", "exg2sta", "ecgvxrl"},
	Exg2Ch2:     {"exg2ch2"},
}
