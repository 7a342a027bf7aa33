package panel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fisaks/uhn-gripper/internal/logging"
	"github.com/fisaks/uhn-gripper/internal/uhn"
	"github.com/fisaks/uhn-gripper/internal/util"
)

const DefaultCommandBuffer = 16

// Dispatcher queues incoming MQTT commands and runs them one at a time
// against the panel, publishing a result for each.
type Dispatcher struct {
	panel   *Panel
	results uhn.ResultPublisher
	cmdCh   chan uhn.IncomingCommand
	resync  func()
	now     func() time.Time
	log     *slog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithResync sets the handler for the "resync" action.
func WithResync(fn func()) DispatcherOption { return func(d *Dispatcher) { d.resync = fn } }

func NewDispatcher(p *Panel, results uhn.ResultPublisher, bufSize int, opts ...DispatcherOption) *Dispatcher {
	if bufSize <= 0 {
		bufSize = DefaultCommandBuffer
	}
	d := &Dispatcher{
		panel:   p,
		results: results,
		cmdCh:   make(chan uhn.IncomingCommand, bufSize),
		now:     time.Now,
		log:     logging.With("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnCommand enqueues cmd. A full queue rejects it with a failed result.
func (d *Dispatcher) OnCommand(ctx context.Context, cmd uhn.IncomingCommand) error {
	d.log.Debug("Received command", "id", cmd.ID, "action", cmd.Action)
	select {
	case d.cmdCh <- cmd:
		return nil
	default:
	}
	err := fmt.Errorf("command buffer full, %s rejected", cmd.Action)
	d.publish(ctx, cmd, failResult("%v", err))
	return err
}

// Run executes queued commands until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.panel.Stop()
			return
		case cmd := <-d.cmdCh:
			d.publish(ctx, cmd, d.Execute(ctx, cmd))
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, cmd uhn.IncomingCommand, r Result) {
	if !r.Success {
		d.log.Warn("Command failed", "id", cmd.ID, "action", cmd.Action, "message", r.Message)
	}
	if d.results == nil {
		return
	}
	err := d.results.PublishCommandResult(ctx, uhn.CommandResult{
		ID:         cmd.ID,
		Action:     cmd.Action,
		Success:    r.Success,
		Message:    r.Message,
		Value:      r.Value,
		StatusText: r.StatusText,
		Timestamp:  d.now(),
	})
	if err != nil {
		d.log.Warn("Failed to publish command result", "id", cmd.ID, "error", err)
	}
}

// Execute runs one command synchronously.
func (d *Dispatcher) Execute(ctx context.Context, c uhn.IncomingCommand) Result {
	p := d.panel
	if c.DeviceID != nil {
		id, ok := util.ToInt(c.DeviceID)
		if !ok || id != p.DeviceID() {
			return failResult("unknown device %v, this service drives gripper %d", c.DeviceID, p.DeviceID())
		}
	}

	switch strings.ToLower(c.Action) {
	case "move":
		pos, ok := number(c.Position, c.Target)
		if !ok {
			return missing(c.Action, "position")
		}
		speed, ok := number(c.Speed)
		if !ok {
			return missing(c.Action, "speed")
		}
		return p.Move(ctx, pos, speed, c.Wait)

	case "rotate":
		angle, ok := number(c.Angle, c.Target)
		if !ok {
			return missing(c.Action, "angle")
		}
		speed, ok := number(c.Speed)
		if !ok {
			return missing(c.Action, "speed")
		}
		return p.Rotate(ctx, angle, speed, c.Wait)

	case "waitclamp":
		target, ok := number(c.Target, c.Position)
		if !ok {
			return missing(c.Action, "target")
		}
		return p.WaitClamp(ctx, target, millis(c.TimeoutMs))

	case "waitrotation":
		target, ok := number(c.Target, c.Angle)
		if !ok {
			return missing(c.Action, "target")
		}
		return p.WaitRotation(ctx, target, millis(c.TimeoutMs))

	case "init":
		return p.PulseInit(ctx)

	case "writeregister":
		v, ok := number(c.Value)
		if !ok {
			return missing(c.Action, "value")
		}
		return p.WriteRegister(ctx, c.Register, v)

	case "readregister":
		return p.ReadRegister(ctx, c.Register)

	case "readallstatus":
		snap := p.ReadAllStatus(ctx)
		if !snap.Success {
			return Result{Message: snap.Message}
		}
		return okResult(snap, "", "read %d status registers", len(snap.Entries))

	case "setdigitaloutput":
		ch, ok := util.ToInt(c.Channel)
		if !ok {
			return missing(c.Action, "channel")
		}
		v, ok := util.ToInt(c.Value)
		if !ok || (v != 0 && v != 1) {
			return failResult("%s: value must be 0 or 1", c.Action)
		}
		return p.SetDigitalOutput(ctx, ch, v == 1, millis(c.PulseMs))

	case "getdigitaloutput":
		ch, ok := util.ToInt(c.Channel)
		if !ok {
			return missing(c.Action, "channel")
		}
		return p.GetDigitalOutput(ctx, ch)

	case "getdigitaloutputs":
		return p.GetDigitalOutputs(ctx)

	case "setindicatorchannel":
		ch, ok := util.ToInt(c.Channel)
		if !ok {
			return missing(c.Action, "channel")
		}
		return p.SetIndicatorChannel(ch)

	case "getindicatorchannel":
		return p.GetIndicatorChannel()

	case "checklink":
		return p.CheckLink(ctx)

	case "health":
		return p.Health()

	case "connect":
		return p.Connect(ctx, c.Link)

	case "disconnect":
		return p.Disconnect(ctx)

	case "resync":
		if d.resync == nil {
			return failResult("resync not supported")
		}
		d.log.Info("Received resync command")
		d.resync()
		return okResult(nil, "", "published state cleared")
	}
	return failResult("unknown action %q", c.Action)
}

// number returns the first of vs that parses as a number.
func number(vs ...any) (float64, bool) {
	for _, v := range vs {
		if v == nil {
			continue
		}
		if f, ok := util.ToFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

func millis(v any) time.Duration {
	ms, ok := util.ToInt(v)
	if !ok || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func missing(action, param string) Result {
	return failResult("%s: missing or invalid %s", action, param)
}
