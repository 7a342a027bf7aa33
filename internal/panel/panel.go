package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/logging"
	"github.com/fisaks/uhn-gripper/internal/supervisor"
	"github.com/fisaks/uhn-gripper/internal/util"
)

const DefaultPulseWidth = 500 * time.Millisecond

// Result is what every panel operation returns. Failures are reported in
// Message, never as a Go error.
type Result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Value      any    `json:"value,omitempty"`
	StatusText string `json:"statusText,omitempty"`
}

func okResult(v any, text, format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...), Value: v, StatusText: text}
}

func failResult(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// LinkMonitor is the part of the supervisor the panel consults and informs.
type LinkMonitor interface {
	Health() supervisor.Health
	ReportFailure(err error)
	Probe(ctx context.Context) supervisor.Health
	CheckNow()
	DeviceID() int
	IndicatorChannel() int
	SetIndicatorChannel(ch int) error
}

type Options struct {
	ClampTolerance    float64
	RotationTolerance float64
	WaitTimeout       time.Duration
	CheckInterval     time.Duration
	PulseWidth        time.Duration
	// Link is used by Connect when the caller passes none.
	Link gripper.SerialLinkConfig
}

// Panel exposes the gripper to collaborators: register IO by name, motion,
// waits, the init pulse and the arm's digital outputs.
type Panel struct {
	ctl    *gripper.Controller
	link   LinkMonitor
	signal gripper.SignalIO
	opts   Options
	pulses *pulseScheduler
	log    *slog.Logger
}

func New(ctl *gripper.Controller, link LinkMonitor, signal gripper.SignalIO, opts Options) *Panel {
	if opts.ClampTolerance <= 0 {
		opts.ClampTolerance = gripper.DefaultClampTolerance
	}
	if opts.RotationTolerance <= 0 {
		opts.RotationTolerance = gripper.DefaultRotationTolerance
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = gripper.DefaultWaitTimeout
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = gripper.DefaultCheckInterval
	}
	if opts.PulseWidth <= 0 {
		opts.PulseWidth = DefaultPulseWidth
	}
	if opts.Link == (gripper.SerialLinkConfig{}) {
		opts.Link = gripper.DefaultLink()
	}
	return &Panel{
		ctl:    ctl,
		link:   link,
		signal: signal,
		opts:   opts,
		pulses: newPulseScheduler(),
		log:    logging.With("panel"),
	}
}

func (p *Panel) DeviceID() int { return p.link.DeviceID() }

// Stop cancels pending pulse-offs.
func (p *Panel) Stop() { p.pulses.Stop() }

func (p *Panel) connected() bool { return p.link.Health().Connected }

// ioFailed informs the supervisor when err came from the bus rather than
// from rejected input.
func (p *Panel) ioFailed(err error) {
	switch gripper.KindOf(err) {
	case gripper.KindValidation, gripper.KindFormat:
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	p.link.ReportFailure(err)
}

func (p *Panel) ReadRegister(ctx context.Context, name string) Result {
	f, ok := lookupField(name)
	if !ok {
		return failResult("unknown register %q", name)
	}
	if !p.connected() {
		return failResult("gripper not connected")
	}
	return p.readField(ctx, f)
}

func (p *Panel) readField(ctx context.Context, f field) Result {
	id := p.DeviceID()
	if f.reg.Float {
		v, err := p.ctl.ReadFloat(ctx, id, f.reg)
		if err != nil {
			p.ioFailed(err)
			return failResult("read %s failed: %v", f.reg.Name, err)
		}
		return okResult(roundFloat(v), "", "%s = %.2f", f.reg.Name, v)
	}
	v, err := p.ctl.ReadWord(ctx, id, f.reg)
	if err != nil {
		p.ioFailed(err)
		return failResult("read %s failed: %v", f.reg.Name, err)
	}
	return okResult(v, f.statusText(v), "%s = %d", f.reg.Name, v)
}

// WriteRegister validates value against the register's allowed range before
// any bus traffic. Word registers are clamped to 0..65535.
func (p *Panel) WriteRegister(ctx context.Context, name string, value float64) Result {
	f, ok := lookupField(name)
	if !ok {
		return failResult("unknown register %q", name)
	}
	if f.check == nil {
		return failResult("%s is read-only", name)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return failResult("%s: value must be a finite number", name)
	}
	if err := f.check(value); err != nil {
		return failResult("%s: %v", name, err)
	}
	if !p.connected() {
		return failResult("gripper not connected")
	}
	id := p.DeviceID()
	if f.reg.Float {
		if err := p.ctl.WriteFloat(ctx, id, f.reg, float32(value)); err != nil {
			p.ioFailed(err)
			return failResult("write %s failed: %v", name, err)
		}
		return okResult(value, "", "%s set to %.2f", name, value)
	}
	w := util.ClampWord(value)
	if err := p.ctl.WriteWord(ctx, id, f.reg, w); err != nil {
		p.ioFailed(err)
		return failResult("write %s failed: %v", name, err)
	}
	return okResult(w, f.statusText(w), "%s set to %d", name, w)
}

// PulseInit writes 1 to the init register and schedules the write of 0.
// Re-triggering before the pulse ends restarts it.
func (p *Panel) PulseInit(ctx context.Context) Result {
	if !p.connected() {
		return failResult("gripper not connected")
	}
	id := p.DeviceID()
	p.pulses.Clear("init")
	if err := p.ctl.WriteWord(ctx, id, gripper.RegInit, 1); err != nil {
		p.ioFailed(err)
		return failResult("init failed: %v", err)
	}
	p.pulses.Schedule("init", p.opts.PulseWidth, func() {
		if err := p.ctl.WriteWord(context.Background(), id, gripper.RegInit, 0); err != nil {
			p.log.Warn("Init pulse release failed", "device", id, "error", err)
			p.ioFailed(err)
		}
	})
	return okResult(nil, "", "initialization started")
}

func (p *Panel) Move(ctx context.Context, position, speed float64, wait bool) Result {
	if err := p.ctl.Move(ctx, p.DeviceID(), position, speed); err != nil {
		p.ioFailed(err)
		return failResult("move failed: %v", err)
	}
	if wait {
		return p.WaitClamp(ctx, position, 0)
	}
	return okResult(position, "", "moving to %.2f at speed %.1f", position, speed)
}

func (p *Panel) Rotate(ctx context.Context, angle, speed float64, wait bool) Result {
	if err := p.ctl.Rotate(ctx, p.DeviceID(), angle, speed); err != nil {
		p.ioFailed(err)
		return failResult("rotate failed: %v", err)
	}
	if wait {
		return p.WaitRotation(ctx, angle, 0)
	}
	return okResult(angle, "", "rotating to %.1f at speed %.1f", angle, speed)
}

// WaitClamp waits for the clamp position feedback; timeout 0 uses the configured one.
func (p *Panel) WaitClamp(ctx context.Context, target float64, timeout time.Duration) Result {
	spec := gripper.ClampWait(target)
	spec.Tolerance = p.opts.ClampTolerance
	return p.wait(ctx, spec, timeout)
}

func (p *Panel) WaitRotation(ctx context.Context, target float64, timeout time.Duration) Result {
	spec := gripper.RotationWait(target)
	spec.Tolerance = p.opts.RotationTolerance
	return p.wait(ctx, spec, timeout)
}

func (p *Panel) wait(ctx context.Context, spec gripper.WaitSpec, timeout time.Duration) Result {
	spec.Timeout = p.opts.WaitTimeout
	if timeout > 0 {
		spec.Timeout = timeout
	}
	spec.Interval = p.opts.CheckInterval

	out, err := p.ctl.WaitFor(ctx, p.DeviceID(), spec)
	if err != nil {
		p.ioFailed(err)
		return failResult("%s failed: %v", spec.Op, err)
	}
	v := roundFloat(out.Value)
	switch out.Result {
	case gripper.ReachedTarget:
		return okResult(v, out.Result.String(), "reached %.2f after %s", out.Value, out.Elapsed.Round(time.Millisecond))
	case gripper.Faulted:
		return Result{Message: out.Reason, Value: v, StatusText: spec.FaultText(out.Status)}
	default:
		return Result{Message: out.Reason, Value: v, StatusText: out.Result.String()}
	}
}

// SetDigitalOutput drives a channel of the signal connection. pulse > 0
// reverts the channel after that long.
func (p *Panel) SetDigitalOutput(ctx context.Context, channel int, on bool, pulse time.Duration) Result {
	if err := gripper.ValidateSignalChannel(channel); err != nil {
		return failResult("%v", err)
	}
	if p.signal == nil {
		return failResult("signal connection not configured")
	}
	if channel == p.link.IndicatorChannel() {
		p.log.Warn("Writing the link indicator channel", "channel", channel, "on", on)
	}
	key := outputKey(channel)
	p.pulses.Clear(key)
	if err := p.signal.WriteDigitalOutput(ctx, channel, on); err != nil {
		return failResult("set output %d failed: %v", channel, err)
	}
	if pulse > 0 {
		p.pulses.Schedule(key, pulse, func() {
			if err := p.signal.WriteDigitalOutput(context.Background(), channel, !on); err != nil {
				p.log.Warn("Output pulse revert failed", "channel", channel, "error", err)
			}
		})
	}
	return okResult(on, onOff(on), "output %d set %s", channel, onOff(on))
}

func (p *Panel) GetDigitalOutput(ctx context.Context, channel int) Result {
	if err := gripper.ValidateSignalChannel(channel); err != nil {
		return failResult("%v", err)
	}
	if p.signal == nil {
		return failResult("signal connection not configured")
	}
	on, err := p.signal.ReadDigitalOutput(ctx, channel)
	if err != nil {
		return failResult("read output %d failed: %v", channel, err)
	}
	if p.pulses.Pending(outputKey(channel)) {
		return okResult(on, onOff(on), "output %d is %s, pulse pending", channel, onOff(on))
	}
	return okResult(on, onOff(on), "output %d is %s", channel, onOff(on))
}

type bulkOutputReader interface {
	ReadDigitalOutputs(ctx context.Context) ([]bool, error)
}

// GetDigitalOutputs reads DO1..DO16; Value[i] is channel i+1. Signal
// connections that can read every coil in one request do so.
func (p *Panel) GetDigitalOutputs(ctx context.Context) Result {
	if p.signal == nil {
		return failResult("signal connection not configured")
	}
	var states []bool
	if bulk, ok := p.signal.(bulkOutputReader); ok {
		all, err := bulk.ReadDigitalOutputs(ctx)
		if err != nil {
			return failResult("read outputs failed: %v", err)
		}
		states = all
	} else {
		for ch := gripper.MinSignalChannel; ch <= gripper.MaxSignalChannel; ch++ {
			on, err := p.signal.ReadDigitalOutput(ctx, ch)
			if err != nil {
				return failResult("read output %d failed: %v", ch, err)
			}
			states = append(states, on)
		}
	}
	n := 0
	for _, on := range states {
		if on {
			n++
		}
	}
	return okResult(states, "", "%d of %d outputs on", n, len(states))
}

func outputKey(channel int) string { return fmt.Sprintf("do:%d", channel) }

func (p *Panel) SetIndicatorChannel(channel int) Result {
	if err := p.link.SetIndicatorChannel(channel); err != nil {
		return failResult("%v", err)
	}
	p.link.CheckNow()
	return okResult(channel, "", "indicator channel set to %d", channel)
}

func (p *Panel) GetIndicatorChannel() Result {
	ch := p.link.IndicatorChannel()
	return okResult(ch, "", "indicator channel is %d", ch)
}

// CheckLink probes the link now and returns the fresh health snapshot.
func (p *Panel) CheckLink(ctx context.Context) Result {
	h := p.link.Probe(ctx)
	return Result{Success: h.Connected, Message: h.ModbusStatus, Value: h, StatusText: h.State}
}

func (p *Panel) Health() Result {
	h := p.link.Health()
	return Result{Success: h.Connected, Message: h.ModbusStatus, Value: h, StatusText: h.State}
}

// Connect opens the supervised session with link, or the configured link
// when nil, and asks the supervisor to pick it up.
func (p *Panel) Connect(ctx context.Context, link *gripper.SerialLinkConfig) Result {
	cfg := p.opts.Link
	if link != nil {
		cfg = *link
	}
	id := p.DeviceID()
	if err := p.ctl.Connect(ctx, id, cfg); err != nil {
		return failResult("connect failed: %v", err)
	}
	p.link.CheckNow()
	return okResult(id, "", "connected to gripper %d on %d baud", id, cfg.BaudRate)
}

// Disconnect drops the session. The supervisor re-establishes it on a later tick.
func (p *Panel) Disconnect(ctx context.Context) Result {
	id := p.DeviceID()
	if err := p.ctl.Disconnect(ctx, id); err != nil {
		return failResult("disconnect failed: %v", err)
	}
	p.link.CheckNow()
	return okResult(id, "", "disconnected from gripper %d", id)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func roundFloat(v float32) float64 {
	return math.Round(float64(v)*1000) / 1000
}
