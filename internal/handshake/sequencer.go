package handshake

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/codec"
	"github.com/srg/wearlink/internal/transport"
)

// Sequencer executes step lists against one transport/codec pair. The
// session orchestrator owns at most one Sequencer execution at a time; the
// read loop must be running while a sequence with ack steps executes,
// since replies arrive through it and resolve the ack table.
type Sequencer struct {
	tr     transport.Transport
	cod    codec.Codec
	acks   *AckTable
	logger *logrus.Logger

	softFailures atomic.Uint64
}

func NewSequencer(tr transport.Transport, cod codec.Codec, acks *AckTable, logger *logrus.Logger) *Sequencer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sequencer{tr: tr, cod: cod, acks: acks, logger: logger}
}

// SoftFailures reports how many soft-ack steps have timed out or been
// rejected since construction.
func (s *Sequencer) SoftFailures() uint64 { return s.softFailures.Load() }

// Run executes steps in order. A hard-ack failure aborts the remainder and
// returns a *StepError naming the step; soft-ack failures are recorded and
// the sequence continues. Settle delays respect ctx so a disconnect does
// not wait them out.
func (s *Sequencer) Run(ctx context.Context, steps []Step) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.Name, Reason: "cancelled"}
		}
		if err := s.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) runStep(ctx context.Context, step Step) error {
	log := s.logger.WithField("step", step.Name)

	if step.Drain {
		s.cod.Reset()
		if err := s.tr.Drain(); err != nil {
			// Drains are preparatory, not protocol: a transport that
			// cannot flush simply starts less clean.
			log.WithField("error", err).Warn("Drain failed")
		}
		return s.settle(ctx, step.Settle)
	}

	if step.Command == nil {
		return s.settle(ctx, step.Settle)
	}

	var pending *Pending
	if step.Ack != AckNone {
		pending = s.acks.Register(step.Command.Name)
	}

	payload, err := s.cod.EncodeCommand(*step.Command)
	if err != nil {
		if pending != nil {
			s.acks.Discard(pending)
		}
		return &StepError{Step: step.Name, Reason: err.Error()}
	}
	if err := s.tr.Send(payload); err != nil {
		if pending != nil {
			s.acks.Discard(pending)
		}
		return &StepError{Step: step.Name, Reason: err.Error()}
	}
	log.Debug("Command sent")

	if pending != nil {
		msg, err := s.acks.Await(ctx, pending, step.Timeout)
		failed := err != nil || !msg.OK
		if failed && step.Ack == AckHard {
			if err == ErrAckTimeout {
				return &StepError{Step: step.Name, Timeout: true}
			}
			reason := msg.Reason
			if err != nil {
				reason = err.Error()
			}
			return &StepError{Step: step.Name, Reason: reason}
		}
		if failed {
			// Soft ack: single attempt, warn and move on.
			s.softFailures.Add(1)
			log.WithFields(logrus.Fields{
				"timeout": err == ErrAckTimeout,
				"reason":  msg.Reason,
			}).Warn("Soft acknowledgement failed, continuing")
		}
	}

	return s.settle(ctx, step.Settle)
}

func (s *Sequencer) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
