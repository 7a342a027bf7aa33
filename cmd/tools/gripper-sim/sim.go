package main

import (
	"math"
	"sync"
	"time"

	"github.com/womat/mbserver"

	"github.com/fisaks/uhn-gripper/internal/gripper"
)

const (
	physicsTick       = 50 * time.Millisecond
	// travel per second at 100 % clamp speed
	clampTravelPerSec = 40.0
	initTicks         = 20
)

// simGripper animates one device's register file. Targets are read from the
// holding registers the master writes; feedback and status are written back.
type simGripper struct {
	mu     sync.Mutex
	id     uint8
	regs   []uint16
	fault  map[uint16]uint16 // status register -> injected fault value
	initIn int               // ticks left in an init cycle
}

func newSimGripper(id uint8, dev mbserver.Device) *simGripper {
	g := &simGripper{id: id, regs: dev.HoldingRegisters, fault: map[uint16]uint16{}}
	g.seed()
	return g
}

func (g *simGripper) seed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regs[gripper.RegGripperID.Addr] = uint16(g.id)
	g.regs[gripper.RegBaudCode.Addr] = 4
	g.regs[gripper.RegInitStatus.Addr] = gripper.InitDone
	g.regs[gripper.RegMotorEnable.Addr] = 1
	g.setFloat(gripper.RegClampSpeed, 50)
	g.setFloat(gripper.RegClampCurrent, 0.3)
	g.setFloat(gripper.RegRotationSpeed, 90)
	g.setFloat(gripper.RegRotationCurrent, 0.5)
}

func (g *simGripper) float(r gripper.Register) float64 {
	f, _ := gripper.RegistersToFloat(g.regs[r.Addr : r.Addr+2])
	return float64(f)
}

func (g *simGripper) setFloat(r gripper.Register, v float64) {
	p := gripper.FloatToRegisters(float32(v))
	g.regs[r.Addr], g.regs[r.Addr+1] = p[0], p[1]
}

func (g *simGripper) step(dt time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sec := dt.Seconds()

	if g.regs[gripper.RegInit.Addr] == 1 && g.initIn == 0 {
		g.initIn = initTicks
		g.regs[gripper.RegInitStatus.Addr] = 1
	}
	if g.initIn > 0 {
		g.initIn--
		if g.initIn == 0 {
			g.regs[gripper.RegInitStatus.Addr] = gripper.InitDone
			g.setFloat(gripper.RegClampPositionFeedback, 0)
		}
		return
	}
	if g.regs[gripper.RegMotorEnable.Addr] == 0 {
		return
	}

	speed := g.float(gripper.RegClampSpeed)
	g.advance(advanceArgs{
		target:   g.float(gripper.RegClampPosition),
		rate:     speed / 100 * clampTravelPerSec * sec,
		speed:    speed,
		current:  g.float(gripper.RegClampCurrent),
		feedback: gripper.RegClampPositionFeedback,
		speedFb:  gripper.RegClampSpeedFeedback,
		curFb:    gripper.RegClampCurrentFeedback,
		status:   gripper.RegClampStatus,
		moving:   gripper.ClampMoving,
		idle:     gripper.ClampSeated,
	})
	speed = g.float(gripper.RegRotationSpeed)
	g.advance(advanceArgs{
		target:   g.float(gripper.RegRotationAngle),
		rate:     speed * sec,
		speed:    speed,
		current:  g.float(gripper.RegRotationCurrent),
		feedback: gripper.RegRotationAngleFeedback,
		speedFb:  gripper.RegRotationSpeedFeedback,
		curFb:    gripper.RegRotationCurrentFeedback,
		status:   gripper.RegRotationStatus,
		moving:   gripper.RotationRotating,
		idle:     gripper.RotationSeated,
	})
}

type advanceArgs struct {
	target, rate, speed, current float64
	feedback, speedFb, curFb     gripper.Register
	status                       gripper.Register
	moving, idle                 uint16
}

func (g *simGripper) advance(a advanceArgs) {
	if f, ok := g.fault[a.status.Addr]; ok {
		g.regs[a.status.Addr] = f
		g.setFloat(a.speedFb, 0)
		return
	}
	pos := g.float(a.feedback)
	diff := a.target - pos
	if math.Abs(diff) <= a.rate || a.rate <= 0 {
		if a.rate > 0 {
			pos = a.target
		}
		g.setFloat(a.feedback, pos)
		g.setFloat(a.speedFb, 0)
		g.setFloat(a.curFb, 0)
		g.regs[a.status.Addr] = a.idle
		return
	}
	pos += math.Copysign(a.rate, diff)
	g.setFloat(a.feedback, pos)
	g.setFloat(a.speedFb, a.speed)
	g.setFloat(a.curFb, a.current*0.8)
	g.regs[a.status.Addr] = a.moving
}

func (g *simGripper) injectFault(status gripper.Register, value uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fault[status.Addr] = value
}

func (g *simGripper) clearFaults() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.fault)
}

func (g *simGripper) word(addr uint16) uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.regs[addr]
}

func (g *simGripper) setWord(addr, v uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regs[addr] = v
}

// snapshot decodes every mapped register.
func (g *simGripper) snapshot() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]any, len(gripper.AllRegisters()))
	for _, r := range gripper.AllRegisters() {
		if r.Float {
			out[r.Name] = math.Round(g.float(r)*1000) / 1000
		} else {
			out[r.Name] = g.regs[r.Addr]
		}
	}
	return out
}

func runPhysics(grippers map[uint8]*simGripper) {
	t := time.NewTicker(physicsTick)
	defer t.Stop()
	for range t.C {
		for _, g := range grippers {
			g.step(physicsTick)
		}
	}
}
