package gripper

import (
	"context"
	"log/slog"
	"time"

	"github.com/fisaks/uhn-gripper/internal/logging"
)

// Controller is the command layer: it validates caller input and turns it
// into ordered register traffic on sessions held by the Registry.
type Controller struct {
	transport Transport
	registry  *Registry
	clock     Clock
	log       *slog.Logger
}

type Option func(*Controller)

func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(ctl *Controller) { ctl.log = l } }

func NewController(t Transport, r *Registry, opts ...Option) *Controller {
	c := &Controller{
		transport: t,
		registry:  r,
		clock:     SystemClock,
		log:       logging.With("gripper"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Registry() *Registry { return c.registry }

func (c *Controller) Clock() Clock { return c.clock }

// Connect validates every parameter before touching the transport, reapplies
// the bus-wide serial settings, acquires a handle for id and checks that the
// device reports id from its own id register. Only then is the session stored.
func (c *Controller) Connect(ctx context.Context, id int, link SerialLinkConfig) error {
	if err := ValidateDeviceID(id); err != nil {
		return err
	}
	if err := link.Validate(); err != nil {
		return err
	}
	dev := uint8(id)
	unlock := c.registry.Lock(dev)
	defer unlock()

	if err := c.transport.ConfigureSerial(ctx, link); err != nil {
		c.registry.remove(dev)
		return connectionf("connect", err, "configure serial link")
	}
	io, err := c.transport.AcquireDevice(ctx, dev)
	if err != nil || io == nil {
		c.registry.remove(dev)
		return connectionf("connect", err, "acquire handle for device %d", id)
	}

	words, err := io.ReadHoldingRegisters(ctx, RegGripperID.Addr, 1)
	if err != nil {
		c.registry.remove(dev)
		return connectionf("connect", err, "read gripper id of device %d", id)
	}
	if len(words) < 1 {
		c.registry.remove(dev)
		return connectionf("connect", nil, "empty id response from device %d", id)
	}
	if words[0] != uint16(id) {
		c.registry.remove(dev)
		return connectionf("connect", nil, "identity check failed: expected %d, device reports %d", id, words[0])
	}

	c.registry.put(&Session{
		ID:          dev,
		Link:        link,
		IO:          io,
		Connected:   true,
		ConnectedAt: c.clock.Now(),
	})
	c.log.Info("Gripper connected", "id", id, "baud", link.BaudRate, "parity", link.Parity,
		"dataBits", link.DataBits, "stopBits", link.StopBits, "timeoutMs", link.TimeoutMs)
	return nil
}

// Disconnect drops the session for id. Unknown ids are a no-op.
func (c *Controller) Disconnect(ctx context.Context, id int) error {
	if id < 0 || id > 255 {
		return nil
	}
	dev := uint8(id)
	unlock := c.registry.Lock(dev)
	defer unlock()
	if c.registry.remove(dev) {
		c.log.Info("Gripper disconnected", "id", id)
	}
	return nil
}

// session must be called with the device lock held.
func (c *Controller) session(op string, id int) (Session, error) {
	if id < MinDeviceID || id > MaxDeviceID {
		return Session{}, connectionf(op, nil, "device %d is not connected", id)
	}
	s, ok := c.registry.Get(uint8(id))
	if !ok || !s.Connected || s.IO == nil {
		return Session{}, connectionf(op, nil, "device %d is not connected", id)
	}
	return s, nil
}

// withSession runs fn under the device lock with the active session for id.
func (c *Controller) withSession(op string, id int, fn func(s Session) error) error {
	if id < MinDeviceID || id > MaxDeviceID {
		return connectionf(op, nil, "device %d is not connected", id)
	}
	unlock := c.registry.Lock(uint8(id))
	defer unlock()
	s, err := c.session(op, id)
	if err != nil {
		return err
	}
	return fn(s)
}

// Connected reports whether id has an active session.
func (c *Controller) Connected(id int) bool {
	if id < MinDeviceID || id > MaxDeviceID {
		return false
	}
	s, ok := c.registry.Get(uint8(id))
	return ok && s.Connected
}

// ReadRegister reads reg.Count() words from reg.
func (c *Controller) ReadRegister(ctx context.Context, id int, reg Register) ([]uint16, error) {
	var words []uint16
	err := c.withSession("read", id, func(s Session) error {
		v, err := s.IO.ReadHoldingRegisters(ctx, reg.Addr, reg.Count())
		if err != nil {
			return runtimef("read", err, "read %s", reg)
		}
		if len(v) != int(reg.Count()) {
			return formatf("read", "%s returned %d words, want %d", reg, len(v), reg.Count())
		}
		words = v
		return nil
	})
	return words, err
}

func (c *Controller) ReadWord(ctx context.Context, id int, reg Register) (uint16, error) {
	words, err := c.ReadRegister(ctx, id, Register{Name: reg.Name, Addr: reg.Addr})
	if err != nil {
		return 0, err
	}
	return words[0], nil
}

func (c *Controller) ReadFloat(ctx context.Context, id int, reg Register) (float32, error) {
	words, err := c.ReadRegister(ctx, id, Register{Name: reg.Name, Addr: reg.Addr, Float: true})
	if err != nil {
		return 0, err
	}
	return RegistersToFloat(words)
}

func (c *Controller) WriteWord(ctx context.Context, id int, reg Register, v uint16) error {
	return c.withSession("write", id, func(s Session) error {
		if err := s.IO.WriteHoldingRegisters(ctx, reg.Addr, []uint16{v}); err != nil {
			return runtimef("write", err, "write %s", reg)
		}
		return nil
	})
}

func (c *Controller) WriteFloat(ctx context.Context, id int, reg Register, f float32) error {
	return c.withSession("write", id, func(s Session) error {
		if err := s.IO.WriteHoldingRegisters(ctx, reg.Addr, FloatToRegisters(f).Words()); err != nil {
			return runtimef("write", err, "write %s", reg)
		}
		return nil
	})
}

// Ping reads the id register and returns the round-trip time.
func (c *Controller) Ping(ctx context.Context, id int) (time.Duration, error) {
	var rtt time.Duration
	err := c.withSession("ping", id, func(s Session) error {
		start := c.clock.Now()
		words, err := s.IO.ReadHoldingRegisters(ctx, RegGripperID.Addr, 1)
		rtt = c.clock.Now().Sub(start)
		if err != nil {
			return runtimef("ping", err, "read %s", RegGripperID)
		}
		if len(words) < 1 {
			return formatf("ping", "empty id response")
		}
		return nil
	})
	return rtt, err
}
