package gripper

import (
	"context"
	"time"
)

// RegisterIO is a per-device handle on the holding register file.
type RegisterIO interface {
	ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]uint16, error)
	WriteHoldingRegisters(ctx context.Context, addr uint16, values []uint16) error
}

// Transport is the Modbus master shared by every gripper on the bus.
type Transport interface {
	// ConfigureSerial reapplies serial settings to the whole bus.
	ConfigureSerial(ctx context.Context, link SerialLinkConfig) error
	AcquireDevice(ctx context.Context, id uint8) (RegisterIO, error)
}

// SignalIO drives the arm's digital outputs on a connection independent of the gripper bus.
type SignalIO interface {
	WriteDigitalOutput(ctx context.Context, channel int, on bool) error
	ReadDigitalOutput(ctx context.Context, channel int) (bool, error)
}

const (
	MinSignalChannel = 1
	MaxSignalChannel = 16
)

func ValidateSignalChannel(ch int) error {
	if ch < MinSignalChannel || ch > MaxSignalChannel {
		return validationf("signal", "digital output channel must be %d..%d, got %d", MinSignalChannel, MaxSignalChannel, ch)
	}
	return nil
}

// Clock abstracts time so waits, ticks and cooldowns can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Sleep waits for d on clock c, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
