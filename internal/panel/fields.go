package panel

import (
	"fmt"

	"github.com/fisaks/uhn-gripper/internal/gripper"
)

// field binds a register to its write check and status text. A nil check
// marks the register read-only.
type field struct {
	reg   gripper.Register
	check func(v float64) error
	text  func(v uint16) string
}

func (f field) statusText(v uint16) string {
	if f.text == nil {
		return ""
	}
	return f.text(v)
}

func inRange(r gripper.Range) func(float64) error {
	return func(v float64) error {
		if !r.Contains(v) {
			return fmt.Errorf("value %g out of range %s", v, r)
		}
		return nil
	}
}

func wholeInRange(lo, hi float64) func(float64) error {
	r := gripper.Range{Min: lo, Max: hi}
	return func(v float64) error {
		if v != float64(int64(v)) {
			return fmt.Errorf("value %g must be a whole number", v)
		}
		return inRange(r)(v)
	}
}

var binary = wholeInRange(0, 1)

var fields = []field{
	{reg: gripper.RegInit, check: binary},
	{reg: gripper.RegClampPosition, check: inRange(gripper.ClampPositionRange)},
	{reg: gripper.RegClampSpeed, check: inRange(gripper.ClampSpeedRange)},
	{reg: gripper.RegClampCurrent, check: inRange(gripper.ClampCurrentRange)},
	{reg: gripper.RegRotationAngle, check: inRange(gripper.RotationAngleRange)},
	{reg: gripper.RegRotationSpeed, check: inRange(gripper.RotationSpeedRange)},
	{reg: gripper.RegRotationCurrent, check: inRange(gripper.RotationCurrentRange)},
	{reg: gripper.RegMotorEnable, check: binary, text: gripper.MotorEnableText},

	{reg: gripper.RegInitStatus, text: gripper.InitStatusText},
	{reg: gripper.RegClampStatus, text: gripper.ClampStatusText},
	{reg: gripper.RegClampPositionFeedback},
	{reg: gripper.RegClampSpeedFeedback},
	{reg: gripper.RegClampCurrentFeedback},
	{reg: gripper.RegRotationStatus, text: gripper.RotationStatusText},
	{reg: gripper.RegRotationAngleFeedback},
	{reg: gripper.RegRotationSpeedFeedback},
	{reg: gripper.RegRotationCurrentFeedback},

	{reg: gripper.RegGripperID, check: wholeInRange(gripper.MinDeviceID, gripper.MaxDeviceID)},
	{reg: gripper.RegBaudCode, check: wholeInRange(0, float64(len(gripper.BaudRates())-1)), text: gripper.BaudCodeText},
	{reg: gripper.RegInitDirection, check: binary, text: gripper.InitDirectionText},
	{reg: gripper.RegAutoInit, check: binary, text: gripper.AutoInitText},
	{reg: gripper.RegSaveParams, check: binary, text: gripper.SaveParamsText},
	{reg: gripper.RegResetMultiTurn, check: binary},
	{reg: gripper.RegRotationStopEnable, check: binary, text: gripper.RotationStopEnableText},
	{reg: gripper.RegRotationStopSensitivity, check: wholeInRange(gripper.StopSensitivityRange.Min, gripper.StopSensitivityRange.Max)},
}

var fieldsByName = func() map[string]field {
	m := make(map[string]field, len(fields))
	for _, f := range fields {
		m[f.reg.Name] = f
	}
	return m
}()

func lookupField(name string) (field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}
