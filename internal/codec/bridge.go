package codec

import (
	"encoding/json"
	"fmt"

	"github.com/srg/wearlink/internal/sensor"
)

// BridgeCodec speaks the relay bridge's JSON-over-text-frame protocol.
// Outgoing commands are envelopes {"type": <name>, ...args}; replies are
// {"type": <token>, "ok": ...} or {"type":"ack","token":...,"ok":...};
// unsolicited {"type":"sample"} envelopes carry decoded per-channel
// objects directly.
type BridgeCodec struct{}

func NewBridgeCodec() *BridgeCodec { return &BridgeCodec{} }

func (c *BridgeCodec) EncodeCommand(cmd Command) ([]byte, error) {
	env := make(map[string]any, len(cmd.Args)+1)
	for k, v := range cmd.Args {
		env[k] = v
	}
	env["type"] = cmd.Name
	return json.Marshal(env)
}

// Reset is a no-op: the bridge is message-framed, nothing is buffered.
func (c *BridgeCodec) Reset() {}

type vec3 struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

type extADC struct {
	A6  *float64 `json:"a6"`
	A7  *float64 `json:"a7"`
	A15 *float64 `json:"a15"`
}

type bridgeEnvelope struct {
	Type   string   `json:"type"`
	OK     *bool    `json:"ok"`
	Token  string   `json:"token"`
	Reason string   `json:"err"`
	Ts     *uint32  `json:"ts"`
	LNA    *vec3    `json:"lna"`
	WRA    *vec3    `json:"wra"`
	Gyro   *vec3    `json:"gyro"`
	Mag    *vec3    `json:"mag"`
	Ext    *extADC  `json:"ext"`
	Temp   *float64 `json:"temp"`
	Press  *float64 `json:"press"`
	VBatt  *float64 `json:"vbatt"`
}

func (c *BridgeCodec) Decode(p []byte) ([]Event, error) {
	var env bridgeEnvelope
	if err := json.Unmarshal(p, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch env.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)

	case "sample":
		return []Event{{Sample: env.toRawSample()}}, nil

	case "error":
		return []Event{{Control: &ControlMessage{Token: env.Token, OK: false, Reason: env.Reason}}}, nil

	case "ack":
		if env.Token == "" {
			return nil, fmt.Errorf("%w: ack without token", ErrMalformedFrame)
		}
		return []Event{{Control: &ControlMessage{Token: env.Token, OK: env.okValue(), Reason: env.Reason}}}, nil

	case "hello", "open", "config", "start", "stop", "close":
		// Bare reply envelope: the type doubles as the token.
		return []Event{{Control: &ControlMessage{Token: env.Type, OK: env.okValue(), Reason: env.Reason}}}, nil

	default:
		// Unknown envelope types are dropped, not fatal: the bridge may be
		// newer than this client.
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
	}
}

func (e *bridgeEnvelope) okValue() bool {
	if e.OK == nil {
		return true
	}
	return *e.OK
}

func (e *bridgeEnvelope) toRawSample() *sensor.RawSample {
	raw := &sensor.RawSample{Values: make(map[string]float64)}
	if e.Ts != nil {
		raw.Timestamp = *e.Ts
	}
	putVec := func(prefix string, v *vec3) {
		if v == nil {
			return
		}
		if v.X != nil {
			raw.Values[prefix+".x"] = *v.X
		}
		if v.Y != nil {
			raw.Values[prefix+".y"] = *v.Y
		}
		if v.Z != nil {
			raw.Values[prefix+".z"] = *v.Z
		}
	}
	putVec("lna", e.LNA)
	putVec("wra", e.WRA)
	putVec("gyro", e.Gyro)
	putVec("mag", e.Mag)
	if e.Ext != nil {
		if e.Ext.A6 != nil {
			raw.Values["ext.a6"] = *e.Ext.A6
		}
		if e.Ext.A7 != nil {
			raw.Values["ext.a7"] = *e.Ext.A7
		}
		if e.Ext.A15 != nil {
			raw.Values["ext.a15"] = *e.Ext.A15
		}
	}
	if e.Temp != nil {
		raw.Values["temp"] = *e.Temp
	}
	if e.Press != nil {
		raw.Values["press"] = *e.Press
	}
	if e.VBatt != nil {
		raw.Values["vbatt"] = *e.VBatt
	}
	return raw
}
