package gripper

import (
	"context"
	"math"
)

// Motion describes a two-register command. The speed register is always
// written before the target register, since the device starts moving as soon
// as the target lands.
type Motion struct {
	Op          string
	Speed       Register
	Target      Register
	SpeedRange  Range
	TargetRange Range
}

var (
	ClampMotion = Motion{
		Op:          "move",
		Speed:       RegClampSpeed,
		Target:      RegClampPosition,
		SpeedRange:  ClampSpeedRange,
		TargetRange: ClampPositionRange,
	}
	RotationMotion = Motion{
		Op:          "rotate",
		Speed:       RegRotationSpeed,
		Target:      RegRotationAngle,
		SpeedRange:  RotationSpeedRange,
		TargetRange: RotationAngleRange,
	}
)

// MotionPlan is a validated, encoded motion ready to be written.
type MotionPlan struct {
	motion Motion
	speed  RegisterPair
	target RegisterPair
}

// Plan validates target and speed against the motion's domain.
func (m Motion) Plan(target, speed float64) (MotionPlan, error) {
	if math.IsNaN(target) || !m.TargetRange.Contains(target) {
		return MotionPlan{}, validationf(m.Op, "%s %g out of range %s", m.Target.Name, target, m.TargetRange)
	}
	if math.IsNaN(speed) || !m.SpeedRange.Contains(speed) {
		return MotionPlan{}, validationf(m.Op, "%s %g out of range %s", m.Speed.Name, speed, m.SpeedRange)
	}
	return MotionPlan{
		motion: m,
		speed:  FloatToRegisters(float32(speed)),
		target: FloatToRegisters(float32(target)),
	}, nil
}

// Execute writes speed then target. A failed speed write means the target is
// never written. A failed target write leaves the new speed in place.
func (p MotionPlan) Execute(ctx context.Context, io RegisterIO) error {
	if err := io.WriteHoldingRegisters(ctx, p.motion.Speed.Addr, p.speed.Words()); err != nil {
		return runtimef(p.motion.Op, err, "write %s", p.motion.Speed)
	}
	if err := io.WriteHoldingRegisters(ctx, p.motion.Target.Addr, p.target.Words()); err != nil {
		return runtimef(p.motion.Op, err, "write %s", p.motion.Target)
	}
	return nil
}

// Move sets the clamp opening in mm at speed in percent.
func (c *Controller) Move(ctx context.Context, id int, position, speed float64) error {
	return c.run(ctx, ClampMotion, id, position, speed)
}

// Rotate turns to an absolute angle in degrees at speed in deg/s.
func (c *Controller) Rotate(ctx context.Context, id int, angle, speed float64) error {
	return c.run(ctx, RotationMotion, id, angle, speed)
}

func (c *Controller) run(ctx context.Context, m Motion, id int, target, speed float64) error {
	return c.withSession(m.Op, id, func(s Session) error {
		plan, err := m.Plan(target, speed)
		if err != nil {
			return err
		}
		c.log.Debug("Motion", "op", m.Op, "id", id, "target", target, "speed", speed)
		if err := plan.Execute(ctx, s.IO); err != nil {
			c.log.Warn("Motion failed", "op", m.Op, "id", id, "error", err)
			return err
		}
		return nil
	})
}
