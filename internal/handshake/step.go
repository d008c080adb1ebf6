package handshake

import (
	"fmt"
	"time"

	"github.com/srg/wearlink/internal/codec"
)

// AckMode says how a step's command is confirmed.
type AckMode int

const (
	// AckNone: send and forget.
	AckNone AckMode = iota
	// AckHard: timeout or negative reply fails the whole sequence.
	AckHard
	// AckSoft: timeout or negative reply is logged and the sequence
	// continues.
	AckSoft
)

// Step is one entry of a handshake sequence. Exactly one of Command,
// Settle-only or Drain is meaningful per step; settle time on a command
// step is applied after the command completes. Settle steps are declared
// here, not hidden in sleeps: several device writes need settle time
// before the next command, on every transport.
type Step struct {
	Name    string
	Command *codec.Command
	Ack     AckMode
	Timeout time.Duration
	Settle  time.Duration
	Drain   bool
}

// Send builds a send-and-forget command step.
func Send(name string, cmd codec.Command) Step {
	return Step{Name: name, Command: &cmd}
}

// HardAck builds a command step whose acknowledgement is required.
func HardAck(name string, cmd codec.Command, timeout time.Duration) Step {
	return Step{Name: name, Command: &cmd, Ack: AckHard, Timeout: timeout}
}

// SoftAck builds a command step whose acknowledgement is best-effort.
func SoftAck(name string, cmd codec.Command, timeout time.Duration) Step {
	return Step{Name: name, Command: &cmd, Ack: AckSoft, Timeout: timeout}
}

// Settle builds a pure settle-delay step.
func Settle(name string, d time.Duration) Step {
	return Step{Name: name, Settle: d}
}

// Drain builds a step that flushes stale inbound data.
func Drain(name string) Step {
	return Step{Name: name, Drain: true}
}

// WithSettle attaches a post-command settle delay to a step.
func (s Step) WithSettle(d time.Duration) Step {
	s.Settle = d
	return s
}

// StepError reports the step that aborted a sequence. Its message is the
// user-visible failure surface ("open_ack timeout"), deliberately short.
type StepError struct {
	Step    string
	Timeout bool
	Reason  string
}

func (e *StepError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timeout", e.Step)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s rejected: %s", e.Step, e.Reason)
	}
	return fmt.Sprintf("%s rejected", e.Step)
}

// Is matches StepError templates by step name, so callers can test for a
// particular failed step without string comparison.
func (e *StepError) Is(target error) bool {
	t, ok := target.(*StepError)
	if !ok {
		return false
	}
	return t.Step == "" || t.Step == e.Step
}
