package codec

import (
	"bytes"
)

// JSONLines is a built-in frame decoder/command encoder speaking
// newline-delimited bridge-style envelopes over a byte stream. It exists
// for bench rigs and firmware emulators that talk the bridge schema over a
// serial or RFCOMM link; real devices use the vendor collaborator instead.
type JSONLines struct {
	bridge BridgeCodec
}

func NewJSONLines() *JSONLines { return &JSONLines{} }

// Decode cuts complete lines out of buf and parses each as one bridge
// envelope. A trailing partial line is left unconsumed. Lines that fail to
// parse are consumed and skipped; an all-malformed input reports the last
// parse error so the read loop can count it.
func (j *JSONLines) Decode(buf []byte) (int, []Event, error) {
	var (
		events   []Event
		lastErr  error
		consumed int
	)
	for {
		i := bytes.IndexByte(buf[consumed:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(buf[consumed : consumed+i])
		consumed += i + 1
		if len(line) == 0 {
			continue
		}
		evs, err := j.bridge.Decode(line)
		if err != nil {
			lastErr = err
			continue
		}
		events = append(events, evs...)
	}
	if len(events) > 0 {
		return consumed, events, nil
	}
	return consumed, nil, lastErr
}

func (j *JSONLines) EncodeCommand(name string, args map[string]any) ([]byte, error) {
	p, err := j.bridge.EncodeCommand(Command{Name: name, Args: args})
	if err != nil {
		return nil, err
	}
	return append(p, '\n'), nil
}
