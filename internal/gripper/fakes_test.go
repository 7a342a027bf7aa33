package gripper

import (
	"context"
	"errors"
	"sync"
	"time"
)

type write struct {
	addr   uint16
	values []uint16
}

// fakeIO is an in-memory register file. onRead, when set, overrides reads.
type fakeIO struct {
	mu        sync.Mutex
	regs      map[uint16]uint16
	writes    []write
	reads     []uint16
	failWrite map[uint16]error
	onRead    func(addr, count uint16) ([]uint16, error)
}

func newFakeIO(id uint16) *fakeIO {
	return &fakeIO{
		regs:      map[uint16]uint16{RegGripperID.Addr: id},
		failWrite: map[uint16]error{},
	}
}

func (f *fakeIO) ReadHoldingRegisters(_ context.Context, addr, count uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, addr)
	if f.onRead != nil {
		return f.onRead(addr, count)
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.regs[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeIO) WriteHoldingRegisters(_ context.Context, addr uint16, values []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWrite[addr]; err != nil {
		return err
	}
	f.writes = append(f.writes, write{addr: addr, values: append([]uint16(nil), values...)})
	for i, v := range values {
		f.regs[addr+uint16(i)] = v
	}
	return nil
}

func (f *fakeIO) setFloat(addr uint16, v float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := FloatToRegisters(v)
	f.regs[addr], f.regs[addr+1] = p[0], p[1]
}

func (f *fakeIO) setWord(addr, v uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[addr] = v
}

func (f *fakeIO) writeLog() []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]write(nil), f.writes...)
}

type fakeTransport struct {
	mu           sync.Mutex
	devices      map[uint8]*fakeIO
	configured   []SerialLinkConfig
	acquired     []uint8
	configureErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{devices: map[uint8]*fakeIO{}}
}

func (t *fakeTransport) ConfigureSerial(_ context.Context, link SerialLinkConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configured = append(t.configured, link)
	return t.configureErr
}

func (t *fakeTransport) AcquireDevice(_ context.Context, id uint8) (RegisterIO, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acquired = append(t.acquired, id)
	d, ok := t.devices[id]
	if !ok {
		return nil, errors.New("no response")
	}
	return d, nil
}

func (t *fakeTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.configured) + len(t.acquired)
}

// stepClock advances virtual time whenever something sleeps on it.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
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

// connected returns a controller with device id already connected.
func connected(id uint8) (*Controller, *fakeTransport, *fakeIO, *stepClock) {
	tr := newFakeTransport()
	dev := newFakeIO(uint16(id))
	tr.devices[id] = dev
	clk := newStepClock()
	ctl := NewController(tr, NewRegistry(), WithClock(clk))
	if err := ctl.Connect(context.Background(), int(id), DefaultLink()); err != nil {
		panic(err)
	}
	return ctl, tr, dev, clk
}
