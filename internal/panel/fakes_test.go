package panel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/supervisor"
	"github.com/fisaks/uhn-gripper/internal/uhn"
)

type write struct {
	addr   uint16
	values []uint16
}

// fakeGripper is a single-device transport with an in-memory register file.
type fakeGripper struct {
	mu       sync.Mutex
	regs     map[uint16]uint16
	writes   []write
	reads    int
	readErr  error
	writeErr error
}

func newFakeGripper(id uint16) *fakeGripper {
	return &fakeGripper{regs: map[uint16]uint16{gripper.RegGripperID.Addr: id}}
}

func (g *fakeGripper) ConfigureSerial(context.Context, gripper.SerialLinkConfig) error { return nil }

func (g *fakeGripper) AcquireDevice(context.Context, uint8) (gripper.RegisterIO, error) {
	return g, nil
}

func (g *fakeGripper) ReadHoldingRegisters(_ context.Context, addr, count uint16) ([]uint16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	if g.readErr != nil {
		return nil, g.readErr
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = g.regs[addr+uint16(i)]
	}
	return out, nil
}

func (g *fakeGripper) WriteHoldingRegisters(_ context.Context, addr uint16, values []uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writeErr != nil {
		return g.writeErr
	}
	g.writes = append(g.writes, write{addr: addr, values: append([]uint16(nil), values...)})
	for i, v := range values {
		g.regs[addr+uint16(i)] = v
	}
	return nil
}

func (g *fakeGripper) setFloat(addr uint16, v float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := gripper.FloatToRegisters(v)
	g.regs[addr], g.regs[addr+1] = p[0], p[1]
}

func (g *fakeGripper) setWord(addr, v uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regs[addr] = v
}

func (g *fakeGripper) word(addr uint16) uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.regs[addr]
}

func (g *fakeGripper) writeLog() []write {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]write(nil), g.writes...)
}

func (g *fakeGripper) readCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads
}

type fakeLink struct {
	mu        sync.Mutex
	id        int
	connected bool
	indicator int
	failures  []error
	checks    int
	probes    int
}

func (l *fakeLink) Health() supervisor.Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := supervisor.Disconnected
	if l.connected {
		state = supervisor.Connected
	}
	return supervisor.Health{DeviceID: l.id, Connected: l.connected, State: state.String(), IndicatorChannel: l.indicator}
}

func (l *fakeLink) ReportFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, err)
	l.connected = false
}

func (l *fakeLink) Probe(context.Context) supervisor.Health {
	l.mu.Lock()
	l.probes++
	l.mu.Unlock()
	return l.Health()
}

func (l *fakeLink) CheckNow() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks++
}

func (l *fakeLink) DeviceID() int { return l.id }

func (l *fakeLink) IndicatorChannel() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indicator
}

func (l *fakeLink) SetIndicatorChannel(ch int) error {
	if err := gripper.ValidateSignalChannel(ch); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.indicator = ch
	return nil
}

func (l *fakeLink) failureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}

type fakeSignal struct {
	mu      sync.Mutex
	outputs map[int]bool
	writes  int
}

func (s *fakeSignal) WriteDigitalOutput(_ context.Context, ch int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[ch] = on
	s.writes++
	return nil
}

func (s *fakeSignal) ReadDigitalOutput(_ context.Context, ch int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[ch], nil
}

func (s *fakeSignal) output(ch int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[ch]
}

type recordingResults struct {
	mu      sync.Mutex
	results []uhn.CommandResult
}

func (r *recordingResults) PublishCommandResult(_ context.Context, res uhn.CommandResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *recordingResults) all() []uhn.CommandResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uhn.CommandResult(nil), r.results...)
}

// stepClock advances virtual time whenever something sleeps on it.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type fixture struct {
	panel  *Panel
	dev    *fakeGripper
	link   *fakeLink
	signal *fakeSignal
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dev := newFakeGripper(7)
	clk := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ctl := gripper.NewController(dev, gripper.NewRegistry(), gripper.WithClock(clk))
	require.NoError(t, ctl.Connect(context.Background(), 7, gripper.DefaultLink()))

	link := &fakeLink{id: 7, connected: true, indicator: 1}
	sig := &fakeSignal{outputs: map[int]bool{}}
	p := New(ctl, link, sig, Options{PulseWidth: 20 * time.Millisecond})
	t.Cleanup(p.Stop)
	return fixture{panel: p, dev: dev, link: link, signal: sig}
}
