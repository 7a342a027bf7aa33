package gripper

import "fmt"

// Register describes one field of the gripper's holding register file.
// Float fields occupy two consecutive registers.
type Register struct {
	Name  string
	Addr  uint16
	Float bool
}

func (r Register) Count() uint16 {
	if r.Float {
		return 2
	}
	return 1
}

func (r Register) String() string { return fmt.Sprintf("%s(0x%02X)", r.Name, r.Addr) }

// Targets
var (
	RegInit            = Register{Name: "init", Addr: 0x00}
	RegClampPosition   = Register{Name: "clampPosition", Addr: 0x02, Float: true}
	RegClampSpeed      = Register{Name: "clampSpeed", Addr: 0x04, Float: true}
	RegClampCurrent    = Register{Name: "clampCurrent", Addr: 0x06, Float: true}
	RegRotationAngle   = Register{Name: "rotationAngle", Addr: 0x0A, Float: true}
	RegRotationSpeed   = Register{Name: "rotationSpeed", Addr: 0x0E, Float: true}
	RegRotationCurrent = Register{Name: "rotationCurrent", Addr: 0x14, Float: true}
	RegMotorEnable     = Register{Name: "motorEnable", Addr: 0x16}
)

// Feedback
var (
	RegInitStatus              = Register{Name: "initStatus", Addr: 0x40}
	RegClampStatus             = Register{Name: "clampStatus", Addr: 0x41}
	RegClampPositionFeedback   = Register{Name: "clampPositionFeedback", Addr: 0x42, Float: true}
	RegClampSpeedFeedback      = Register{Name: "clampSpeedFeedback", Addr: 0x44, Float: true}
	RegClampCurrentFeedback    = Register{Name: "clampCurrentFeedback", Addr: 0x46, Float: true}
	RegRotationStatus          = Register{Name: "rotationStatus", Addr: 0x48}
	RegRotationAngleFeedback   = Register{Name: "rotationAngleFeedback", Addr: 0x4A, Float: true}
	RegRotationSpeedFeedback   = Register{Name: "rotationSpeedFeedback", Addr: 0x4C, Float: true}
	RegRotationCurrentFeedback = Register{Name: "rotationCurrentFeedback", Addr: 0x4E, Float: true}
)

// Configuration
var (
	RegGripperID               = Register{Name: "gripperId", Addr: 0x80}
	RegBaudCode                = Register{Name: "baudCode", Addr: 0x81}
	RegInitDirection           = Register{Name: "initDirection", Addr: 0x82}
	RegAutoInit                = Register{Name: "autoInit", Addr: 0x83}
	RegSaveParams              = Register{Name: "saveParams", Addr: 0x84}
	RegResetMultiTurn          = Register{Name: "resetMultiTurn", Addr: 0x8F}
	RegRotationStopEnable      = Register{Name: "rotationStopEnable", Addr: 0x9E}
	RegRotationStopSensitivity = Register{Name: "rotationStopSensitivity", Addr: 0x9F}
)

// AllRegisters lists the register map in address order.
func AllRegisters() []Register {
	return []Register{
		RegInit, RegClampPosition, RegClampSpeed, RegClampCurrent,
		RegRotationAngle, RegRotationSpeed, RegRotationCurrent, RegMotorEnable,
		RegInitStatus, RegClampStatus, RegClampPositionFeedback, RegClampSpeedFeedback,
		RegClampCurrentFeedback, RegRotationStatus, RegRotationAngleFeedback,
		RegRotationSpeedFeedback, RegRotationCurrentFeedback,
		RegGripperID, RegBaudCode, RegInitDirection, RegAutoInit, RegSaveParams,
		RegResetMultiTurn, RegRotationStopEnable, RegRotationStopSensitivity,
	}
}

// LookupRegister finds a register by name.
func LookupRegister(name string) (Register, bool) {
	for _, r := range AllRegisters() {
		if r.Name == name {
			return r, true
		}
	}
	return Register{}, false
}

// RegisterAt finds the register starting at addr.
func RegisterAt(addr uint16) (Register, bool) {
	for _, r := range AllRegisters() {
		if r.Addr == addr {
			return r, true
		}
	}
	return Register{}, false
}

// Range is an inclusive numeric interval.
type Range struct {
	Min, Max float64
}

func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

func (r Range) String() string { return fmt.Sprintf("%g..%g", r.Min, r.Max) }

var (
	ClampPositionRange   = Range{0, 20}
	ClampSpeedRange      = Range{1, 100}
	ClampCurrentRange    = Range{0.1, 0.5}
	RotationAngleRange   = Range{-3_600_000, 3_600_000}
	RotationSpeedRange   = Range{1, 1080}
	RotationCurrentRange = Range{0.2, 1.0}
	StopSensitivityRange = Range{0, 100}
)

// Baud-rate codes stored in RegBaudCode.
var baudRates = []int{9600, 19200, 38400, 57600, 115200, 153600, 256000}

func BaudRates() []int { return append([]int(nil), baudRates...) }

func BaudRateForCode(code uint16) (int, bool) {
	if int(code) >= len(baudRates) {
		return 0, false
	}
	return baudRates[code], true
}

func BaudCodeForRate(rate int) (uint16, bool) {
	for i, r := range baudRates {
		if r == rate {
			return uint16(i), true
		}
	}
	return 0, false
}

// Status enumerations.
const (
	ClampSeated   = 0
	ClampMoving   = 1
	ClampClamping = 2
	ClampDropped  = 3

	RotationSeated     = 0
	RotationRotating   = 1
	RotationObstructed = 2
	RotationDropped    = 3
	RotationStalled    = 4

	InitNotInitialized = 0
	InitDone           = 5
)

func IsClampFault(status uint16) bool { return status == ClampDropped }

func IsRotationFault(status uint16) bool {
	return status == RotationObstructed || status == RotationDropped || status == RotationStalled
}

func ClampStatusText(v uint16) string {
	switch v {
	case ClampSeated:
		return "seated"
	case ClampMoving:
		return "moving"
	case ClampClamping:
		return "clamping"
	case ClampDropped:
		return "dropped"
	}
	return unknownText(v)
}

func RotationStatusText(v uint16) string {
	switch v {
	case RotationSeated:
		return "seated"
	case RotationRotating:
		return "rotating"
	case RotationObstructed:
		return "obstructed"
	case RotationDropped:
		return "dropped"
	case RotationStalled:
		return "stalled"
	}
	return unknownText(v)
}

func InitStatusText(v uint16) string {
	switch v {
	case InitNotInitialized:
		return "not initialized"
	case InitDone:
		return "initialized"
	}
	return fmt.Sprintf("initializing (%d)", v)
}

func MotorEnableText(v uint16) string        { return binaryText(v, "disabled", "enabled") }
func InitDirectionText(v uint16) string      { return binaryText(v, "open calibration", "close calibration") }
func AutoInitText(v uint16) string           { return binaryText(v, "auto on power-up", "manual") }
func RotationStopEnableText(v uint16) string { return binaryText(v, "disabled", "enabled") }
func SaveParamsText(v uint16) string         { return binaryText(v, "not saved", "saved") }

func BaudCodeText(v uint16) string {
	if rate, ok := BaudRateForCode(v); ok {
		return fmt.Sprintf("%d", rate)
	}
	return unknownText(v)
}

func binaryText(v uint16, zero, one string) string {
	switch v {
	case 0:
		return zero
	case 1:
		return one
	}
	return unknownText(v)
}

func unknownText(v uint16) string { return fmt.Sprintf("unknown (%d)", v) }
