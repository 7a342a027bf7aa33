package panel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/uhn"
)

func TestWriteRegisterRejectsBeforeBusTraffic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		value float64
		msg   string
	}{
		{"baudCode", 7, "out of range"},
		{"gripperId", 0, "out of range"},
		{"gripperId", 248, "out of range"},
		{"motorEnable", 2, "out of range"},
		{"autoInit", 0.5, "whole number"},
		{"clampCurrent", 0.6, "out of range"},
		{"rotationCurrent", 0.1, "out of range"},
		{"rotationStopSensitivity", 101, "out of range"},
		{"clampStatus", 1, "read-only"},
		{"nope", 1, "unknown register"},
	}
	for _, tc := range cases {
		r := f.panel.WriteRegister(ctx, tc.name, tc.value)
		assert.False(t, r.Success, tc.name)
		assert.Contains(t, r.Message, tc.msg, tc.name)
	}
	assert.Empty(t, f.dev.writeLog())
}

func TestWriteRegisterEncodesByType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.panel.WriteRegister(ctx, "clampCurrent", 0.3)
	require.True(t, r.Success, r.Message)

	r = f.panel.WriteRegister(ctx, "baudCode", 6)
	require.True(t, r.Success, r.Message)
	assert.Equal(t, "256000", r.StatusText)

	writes := f.dev.writeLog()
	require.Len(t, writes, 2)
	assert.Equal(t, gripper.RegClampCurrent.Addr, writes[0].addr)
	assert.Equal(t, gripper.FloatToRegisters(0.3).Words(), writes[0].values)
	assert.Equal(t, write{addr: gripper.RegBaudCode.Addr, values: []uint16{6}}, writes[1])
}

func TestReadRegisterStatusText(t *testing.T) {
	f := newFixture(t)
	f.dev.setWord(gripper.RegInitStatus.Addr, 5)
	f.dev.setFloat(gripper.RegClampPositionFeedback.Addr, 12.5)

	r := f.panel.ReadRegister(context.Background(), "initStatus")
	require.True(t, r.Success)
	assert.Equal(t, uint16(5), r.Value)
	assert.Equal(t, "initialized", r.StatusText)

	r = f.panel.ReadRegister(context.Background(), "clampPositionFeedback")
	require.True(t, r.Success)
	assert.Equal(t, 12.5, r.Value)
}

func TestRegisterIOGatedOnLink(t *testing.T) {
	f := newFixture(t)
	f.link.connected = false
	before := f.dev.readCount()

	r := f.panel.ReadRegister(context.Background(), "initStatus")
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "not connected")

	r = f.panel.WriteRegister(context.Background(), "motorEnable", 1)
	assert.False(t, r.Success)
	assert.Equal(t, before, f.dev.readCount())
	assert.Empty(t, f.dev.writeLog())
}

func TestRegisterIOFailureReportedToSupervisor(t *testing.T) {
	f := newFixture(t)
	f.dev.readErr = errors.New("crc mismatch")

	r := f.panel.ReadRegister(context.Background(), "clampStatus")
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "crc mismatch")
	assert.Equal(t, 1, f.link.failureCount())

	// link now marked down until the next probe
	r = f.panel.ReadRegister(context.Background(), "clampStatus")
	assert.Contains(t, r.Message, "not connected")
}

func TestPulseInit(t *testing.T) {
	f := newFixture(t)

	r := f.panel.PulseInit(context.Background())
	require.True(t, r.Success, r.Message)
	assert.Equal(t, uint16(1), f.dev.word(gripper.RegInit.Addr))

	assert.Eventually(t, func() bool {
		return f.dev.word(gripper.RegInit.Addr) == 0
	}, time.Second, 5*time.Millisecond)
	writes := f.dev.writeLog()
	require.Len(t, writes, 2)
	assert.Equal(t, []uint16{1}, writes[0].values)
	assert.Equal(t, []uint16{0}, writes[1].values)
}

func TestMoveWithWait(t *testing.T) {
	f := newFixture(t)
	f.dev.setFloat(gripper.RegClampPositionFeedback.Addr, 10.2)

	r := f.panel.Move(context.Background(), 10, 50, true)
	require.True(t, r.Success, r.Message)
	assert.Equal(t, "reached", r.StatusText)

	writes := f.dev.writeLog()
	require.Len(t, writes, 2)
	assert.Equal(t, gripper.RegClampSpeed.Addr, writes[0].addr)
	assert.Equal(t, gripper.RegClampPosition.Addr, writes[1].addr)
}

func TestWaitRotationFault(t *testing.T) {
	f := newFixture(t)
	f.dev.setFloat(gripper.RegRotationAngleFeedback.Addr, 0)
	f.dev.setWord(gripper.RegRotationStatus.Addr, gripper.RotationStalled)

	r := f.panel.WaitRotation(context.Background(), 90, time.Second)
	assert.False(t, r.Success)
	assert.Equal(t, "stalled", r.StatusText)
}

func TestWaitClampTimeout(t *testing.T) {
	f := newFixture(t)
	f.dev.setFloat(gripper.RegClampPositionFeedback.Addr, 2)

	r := f.panel.WaitClamp(context.Background(), 15, time.Second)
	assert.False(t, r.Success)
	assert.Equal(t, "timed out", r.StatusText)
	assert.Equal(t, 0, f.link.failureCount())
}

func TestDigitalOutputPulse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.panel.SetDigitalOutput(ctx, 3, true, 20*time.Millisecond)
	require.True(t, r.Success, r.Message)
	assert.Equal(t, "ON", r.StatusText)
	assert.True(t, f.signal.output(3))

	assert.Eventually(t, func() bool { return !f.signal.output(3) }, time.Second, 5*time.Millisecond)

	r = f.panel.GetDigitalOutput(ctx, 3)
	require.True(t, r.Success)
	assert.Equal(t, false, r.Value)

	r = f.panel.SetDigitalOutput(ctx, 17, true, 0)
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "1..16")
}

func TestDigitalOutputPulsePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.panel.SetDigitalOutput(ctx, 4, true, time.Hour).Success)
	r := f.panel.GetDigitalOutput(ctx, 4)
	require.True(t, r.Success)
	assert.Equal(t, "output 4 is ON, pulse pending", r.Message)

	require.True(t, f.panel.SetDigitalOutput(ctx, 4, false, 0).Success)
	r = f.panel.GetDigitalOutput(ctx, 4)
	assert.Equal(t, "output 4 is OFF", r.Message)
}

type bulkSignal struct {
	*fakeSignal
	bulkReads int
}

func (s *bulkSignal) ReadDigitalOutputs(context.Context) ([]bool, error) {
	s.bulkReads++
	out := make([]bool, gripper.MaxSignalChannel)
	out[0] = true
	return out, nil
}

func TestGetDigitalOutputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signal.outputs[2] = true
	f.signal.outputs[16] = true

	r := f.panel.GetDigitalOutputs(ctx)
	require.True(t, r.Success, r.Message)
	states := r.Value.([]bool)
	require.Len(t, states, 16)
	assert.True(t, states[1])
	assert.True(t, states[15])
	assert.False(t, states[0])
	assert.Equal(t, "2 of 16 outputs on", r.Message)

	sig := &bulkSignal{fakeSignal: &fakeSignal{outputs: map[int]bool{}}}
	p := New(f.panel.ctl, f.link, sig, Options{})
	t.Cleanup(p.Stop)
	r = p.GetDigitalOutputs(ctx)
	require.True(t, r.Success)
	assert.Equal(t, 1, sig.bulkReads)
	assert.Equal(t, "1 of 16 outputs on", r.Message)
}

func TestIndicatorChannelWriteAllowed(t *testing.T) {
	f := newFixture(t)

	r := f.panel.SetDigitalOutput(context.Background(), 1, false, 0)
	assert.True(t, r.Success)

	r = f.panel.SetIndicatorChannel(5)
	require.True(t, r.Success)
	assert.Equal(t, 5, f.panel.GetIndicatorChannel().Value)
	assert.Equal(t, 1, f.link.checks)

	assert.False(t, f.panel.SetIndicatorChannel(0).Success)
}

func TestReadAllStatusOrder(t *testing.T) {
	f := newFixture(t)
	f.dev.setWord(gripper.RegBaudCode.Addr, 4)
	f.dev.setWord(gripper.RegClampStatus.Addr, gripper.ClampDropped)

	snap := f.panel.ReadAllStatus(context.Background())
	require.True(t, snap.Success)
	assert.Equal(t, 7, snap.DeviceID)

	names := make([]string, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		assert.True(t, e.Success, e.Name)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{
		"gripperId", "baudCode", "initStatus", "motorEnable", "initDirection", "autoInit",
		"rotationStopEnable", "rotationStopSensitivity", "clampStatus", "clampPositionFeedback",
		"clampSpeedFeedback", "clampCurrentFeedback", "rotationStatus", "rotationAngleFeedback",
		"rotationSpeedFeedback", "rotationCurrentFeedback", "clampCurrent", "saveParams",
	}, names)
	assert.Equal(t, uint16(7), snap.Entries[0].Value)
	assert.Equal(t, "115200", snap.Entries[1].StatusText)
	assert.Equal(t, "dropped", snap.Entries[8].StatusText)
}

func TestReadAllStatusNotConnected(t *testing.T) {
	f := newFixture(t)
	f.link.connected = false

	snap := f.panel.ReadAllStatus(context.Background())
	assert.False(t, snap.Success)
	assert.Empty(t, snap.Entries)
}

func TestReadAllStatusEntryFailures(t *testing.T) {
	f := newFixture(t)
	f.dev.readErr = errors.New("timeout")

	snap := f.panel.ReadAllStatus(context.Background())
	assert.True(t, snap.Success)
	require.Len(t, snap.Entries, len(statusOrder))
	for _, e := range snap.Entries {
		assert.False(t, e.Success)
	}
	assert.Equal(t, 1, f.link.failureCount())
}

type statusSink struct {
	n      int
	cancel context.CancelFunc
	last   uhn.StatusSnapshot
}

func (s *statusSink) PublishStatus(_ context.Context, snap uhn.StatusSnapshot) error {
	s.n++
	s.last = snap
	if s.n == 3 {
		s.cancel()
	}
	return nil
}

func TestRunStatusPublishesWhileConnected(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	sink := &statusSink{cancel: cancel}

	f.panel.RunStatus(ctx, time.Second, sink)
	assert.Equal(t, 3, sink.n)
	assert.True(t, sink.last.Success)
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.panel.Disconnect(ctx)
	require.True(t, r.Success)
	assert.Contains(t, f.panel.Move(ctx, 5, 10, false).Message, "not connected")

	bad := gripper.DefaultLink()
	bad.BaudRate = 1234
	r = f.panel.Connect(ctx, &bad)
	assert.False(t, r.Success)

	r = f.panel.Connect(ctx, nil)
	require.True(t, r.Success, r.Message)
	assert.Equal(t, 2, f.link.checks)
	assert.True(t, f.panel.Move(ctx, 5, 10, false).Success)
}
