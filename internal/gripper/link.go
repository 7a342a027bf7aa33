package gripper

import (
	"slices"
	"strings"
	"time"
)

const (
	MinDeviceID = 1
	MaxDeviceID = 247
)

// SerialLinkConfig holds the bus-wide serial settings applied on connect.
type SerialLinkConfig struct {
	BaudRate  int    `json:"baudRate" yaml:"baudRate"`
	Parity    string `json:"parity" yaml:"parity"` // NONE | ODD | EVEN
	DataBits  int    `json:"dataBits" yaml:"dataBits"`
	StopBits  int    `json:"stopBits" yaml:"stopBits"`
	TimeoutMs int    `json:"timeoutMs" yaml:"timeoutMs"`
}

var parities = []string{"NONE", "ODD", "EVEN"}

// DefaultLink is the factory setting of the gripper: 115200 8N1, 500 ms.
func DefaultLink() SerialLinkConfig {
	return SerialLinkConfig{BaudRate: 115200, Parity: "NONE", DataBits: 8, StopBits: 1, TimeoutMs: 500}
}

func (l SerialLinkConfig) Timeout() time.Duration { return time.Duration(l.TimeoutMs) * time.Millisecond }

// ParityCode maps NONE/ODD/EVEN to the single-letter form used by serial drivers.
func (l SerialLinkConfig) ParityCode() string {
	switch strings.ToUpper(l.Parity) {
	case "ODD":
		return "O"
	case "EVEN":
		return "E"
	default:
		return "N"
	}
}

// Validate reports the first failing parameter.
func (l SerialLinkConfig) Validate() error {
	if _, ok := BaudCodeForRate(l.BaudRate); !ok {
		return validationf("connect", "unsupported baud rate %d, supported: %v", l.BaudRate, baudRates)
	}
	if !slices.Contains(parities, strings.ToUpper(l.Parity)) {
		return validationf("connect", "unsupported parity %q, supported: %v", l.Parity, parities)
	}
	if l.DataBits != 7 && l.DataBits != 8 {
		return validationf("connect", "data bits must be 7 or 8, got %d", l.DataBits)
	}
	if l.StopBits != 1 && l.StopBits != 2 {
		return validationf("connect", "stop bits must be 1 or 2, got %d", l.StopBits)
	}
	if l.TimeoutMs < 100 || l.TimeoutMs > 800 {
		return validationf("connect", "timeout must be 100..800 ms, got %d", l.TimeoutMs)
	}
	return nil
}

func ValidateDeviceID(id int) error {
	if id < MinDeviceID || id > MaxDeviceID {
		return validationf("connect", "device id must be %d..%d, got %d", MinDeviceID, MaxDeviceID, id)
	}
	return nil
}
