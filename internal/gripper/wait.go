package gripper

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	DefaultWaitTimeout       = 30 * time.Second
	DefaultCheckInterval     = 100 * time.Millisecond
	DefaultClampTolerance    = 0.5
	DefaultRotationTolerance = 1.0
)

type WaitResult int

const (
	ReachedTarget WaitResult = iota + 1
	Faulted
	TimedOut
)

func (r WaitResult) String() string {
	switch r {
	case ReachedTarget:
		return "reached"
	case Faulted:
		return "faulted"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// WaitOutcome is the terminal state of a wait. Value is the last measured
// feedback, Status the fault register value that ended a Faulted wait.
type WaitOutcome struct {
	Result  WaitResult
	Value   float32
	Status  uint16
	Reason  string
	Elapsed time.Duration
}

// Err maps Faulted and TimedOut to FaultError and TimeoutError.
func (o WaitOutcome) Err() error {
	switch o.Result {
	case Faulted:
		return newError(KindFault, "wait", nil, "%s", o.Reason)
	case TimedOut:
		return newError(KindTimeout, "wait", nil, "%s", o.Reason)
	}
	return nil
}

// WaitSpec parameterizes WaitFor. Zero Timeout and Interval fall back to the defaults.
type WaitSpec struct {
	Op          string
	Target      float64
	Tolerance   float64
	Timeout     time.Duration
	Interval    time.Duration
	Feedback    Register
	FaultReg    Register
	IsFault     func(uint16) bool
	FaultText   func(uint16) string
	TargetRange Range
}

func ClampWait(target float64) WaitSpec {
	return WaitSpec{
		Op:          "waitClamp",
		Target:      target,
		Tolerance:   DefaultClampTolerance,
		Timeout:     DefaultWaitTimeout,
		Interval:    DefaultCheckInterval,
		Feedback:    RegClampPositionFeedback,
		FaultReg:    RegClampStatus,
		IsFault:     IsClampFault,
		FaultText:   ClampStatusText,
		TargetRange: ClampPositionRange,
	}
}

func RotationWait(target float64) WaitSpec {
	return WaitSpec{
		Op:          "waitRotation",
		Target:      target,
		Tolerance:   DefaultRotationTolerance,
		Timeout:     DefaultWaitTimeout,
		Interval:    DefaultCheckInterval,
		Feedback:    RegRotationAngleFeedback,
		FaultReg:    RegRotationStatus,
		IsFault:     IsRotationFault,
		FaultText:   RotationStatusText,
		TargetRange: RotationAngleRange,
	}
}

func (c *Controller) WaitClampPosition(ctx context.Context, id int, target float64) (WaitOutcome, error) {
	return c.WaitFor(ctx, id, ClampWait(target))
}

func (c *Controller) WaitRotationAngle(ctx context.Context, id int, target float64) (WaitOutcome, error) {
	return c.WaitFor(ctx, id, RotationWait(target))
}

// WaitFor polls spec.Feedback until it is within spec.Tolerance of
// spec.Target, the fault register satisfies spec.IsFault, or spec.Timeout
// elapses. The device lock is held per read only, so other callers for the
// same id interleave with the wait.
//
// A non-nil error is returned for rejected input, a missing session or a
// cancelled ctx. Faulted and TimedOut are outcomes, not errors; see WaitOutcome.Err.
func (c *Controller) WaitFor(ctx context.Context, id int, spec WaitSpec) (WaitOutcome, error) {
	if spec.Op == "" {
		spec.Op = "wait"
	}
	if math.IsNaN(spec.Tolerance) || spec.Tolerance <= 0 {
		return WaitOutcome{}, validationf(spec.Op, "tolerance must be > 0, got %g", spec.Tolerance)
	}
	if spec.TargetRange != (Range{}) && (math.IsNaN(spec.Target) || !spec.TargetRange.Contains(spec.Target)) {
		return WaitOutcome{}, validationf(spec.Op, "target %g out of range %s", spec.Target, spec.TargetRange)
	}
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultWaitTimeout
	}
	if spec.Interval <= 0 {
		spec.Interval = DefaultCheckInterval
	}
	if spec.FaultText == nil {
		spec.FaultText = unknownText
	}
	if !c.Connected(id) {
		return WaitOutcome{}, connectionf(spec.Op, nil, "device %d is not connected", id)
	}

	start := c.clock.Now()
	var last float32
	for {
		elapsed := c.clock.Now().Sub(start)
		if elapsed >= spec.Timeout {
			return WaitOutcome{
				Result:  TimedOut,
				Value:   last,
				Reason:  fmt.Sprintf("%s did not reach %g within %s (last %g)", spec.Feedback.Name, spec.Target, spec.Timeout, last),
				Elapsed: elapsed,
			}, nil
		}

		measured, err := c.ReadFloat(ctx, id, spec.Feedback)
		switch {
		case ctx.Err() != nil:
			return WaitOutcome{Value: last, Elapsed: elapsed}, ctx.Err()
		case KindOf(err) == KindConnection:
			return WaitOutcome{Value: last, Elapsed: elapsed}, err
		case err != nil:
			c.log.Warn("Feedback read failed, retrying", "op", spec.Op, "id", id, "error", err)
		default:
			last = measured
			if math.Abs(float64(measured)-spec.Target) <= spec.Tolerance {
				return WaitOutcome{
					Result:  ReachedTarget,
					Value:   measured,
					Elapsed: c.clock.Now().Sub(start),
				}, nil
			}
			if spec.IsFault != nil {
				status, err := c.ReadWord(ctx, id, spec.FaultReg)
				if err != nil {
					c.log.Warn("Fault status read failed", "op", spec.Op, "id", id, "error", err)
				} else if spec.IsFault(status) {
					return WaitOutcome{
						Result:  Faulted,
						Value:   measured,
						Status:  status,
						Reason:  fmt.Sprintf("%s reports %s", spec.FaultReg.Name, spec.FaultText(status)),
						Elapsed: c.clock.Now().Sub(start),
					}, nil
				}
			}
		}

		if err := Sleep(ctx, c.clock, spec.Interval); err != nil {
			return WaitOutcome{Value: last, Elapsed: c.clock.Now().Sub(start)}, err
		}
	}
}
