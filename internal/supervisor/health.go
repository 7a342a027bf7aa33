package supervisor

import "time"

type State int

const (
	Disconnected State = iota
	Connected
	ModbusFaulted
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case ModbusFaulted:
		return "modbus_faulted"
	default:
		return "disconnected"
	}
}

// Health is the link snapshot published to collaborators.
type Health struct {
	DeviceID           int       `json:"deviceId"`
	Connected          bool      `json:"connected"`
	State              string    `json:"state"`
	ModbusStatus       string    `json:"modbusStatus"`
	LastCheck          time.Time `json:"lastCheck,omitzero"`
	LastCheckSucceeded bool      `json:"lastCheckSucceeded"`
	LatencyMs          int64     `json:"latencyMs"`
	ReconnectAttempts  int       `json:"reconnectAttempts"`
	MaxAttempts        int       `json:"maxAttempts"`
	IndicatorChannel   int       `json:"indicatorChannel"`
	Indicator          *bool     `json:"indicator,omitempty"`
}
