package panel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/uhn"
)

func TestExecuteMove(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.panel, nil, 4)

	r := d.Execute(context.Background(), uhn.IncomingCommand{Action: "move", Position: 10.0, Speed: "50"})
	require.True(t, r.Success, r.Message)
	writes := f.dev.writeLog()
	require.Len(t, writes, 2)
	assert.Equal(t, gripper.FloatToRegisters(50).Words(), writes[0].values)
	assert.Equal(t, gripper.FloatToRegisters(10).Words(), writes[1].values)
}

func TestExecuteRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.panel, nil, 4)
	ctx := context.Background()

	cases := []struct {
		cmd uhn.IncomingCommand
		msg string
	}{
		{uhn.IncomingCommand{Action: "move", Position: 10.0}, "missing or invalid speed"},
		{uhn.IncomingCommand{Action: "rotate", Speed: 10.0}, "missing or invalid angle"},
		{uhn.IncomingCommand{Action: "move", DeviceID: 8.0, Position: 1.0, Speed: 1.0}, "unknown device"},
		{uhn.IncomingCommand{Action: "setDigitalOutput", Channel: 2.0, Value: 3.0}, "value must be 0 or 1"},
		{uhn.IncomingCommand{Action: "getDigitalOutput"}, "missing or invalid channel"},
		{uhn.IncomingCommand{Action: "fly"}, "unknown action"},
		{uhn.IncomingCommand{Action: "resync"}, "not supported"},
	}
	for _, tc := range cases {
		r := d.Execute(ctx, tc.cmd)
		assert.False(t, r.Success, tc.cmd.Action)
		assert.Contains(t, r.Message, tc.msg, tc.cmd.Action)
	}
	assert.Empty(t, f.dev.writeLog())
}

func TestExecuteRegisterAndOutputs(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.panel, nil, 4)
	ctx := context.Background()

	r := d.Execute(ctx, uhn.IncomingCommand{Action: "writeRegister", Register: "motorEnable", Value: "1"})
	require.True(t, r.Success, r.Message)
	assert.Equal(t, "enabled", r.StatusText)

	r = d.Execute(ctx, uhn.IncomingCommand{Action: "readRegister", Register: "motorEnable"})
	require.True(t, r.Success)
	assert.Equal(t, uint16(1), r.Value)

	r = d.Execute(ctx, uhn.IncomingCommand{Action: "setDigitalOutput", Channel: 4.0, Value: 1.0})
	require.True(t, r.Success)
	assert.True(t, f.signal.output(4))

	r = d.Execute(ctx, uhn.IncomingCommand{Action: "getDigitalOutputs"})
	require.True(t, r.Success)
	assert.Equal(t, "1 of 16 outputs on", r.Message)

	r = d.Execute(ctx, uhn.IncomingCommand{Action: "readAllStatus"})
	require.True(t, r.Success)
	snap, ok := r.Value.(uhn.StatusSnapshot)
	require.True(t, ok)
	assert.Len(t, snap.Entries, len(statusOrder))

	r = d.Execute(ctx, uhn.IncomingCommand{Action: "checkLink"})
	assert.True(t, r.Success)
	assert.Equal(t, 1, f.link.probes)
}

func TestExecuteResync(t *testing.T) {
	f := newFixture(t)
	called := false
	d := NewDispatcher(f.panel, nil, 4, WithResync(func() { called = true }))

	r := d.Execute(context.Background(), uhn.IncomingCommand{Action: "resync"})
	assert.True(t, r.Success)
	assert.True(t, called)
}

func TestOnCommandFullQueue(t *testing.T) {
	f := newFixture(t)
	results := &recordingResults{}
	d := NewDispatcher(f.panel, results, 1)
	ctx := context.Background()

	require.NoError(t, d.OnCommand(ctx, uhn.IncomingCommand{ID: "a", Action: "getIndicatorChannel"}))
	err := d.OnCommand(ctx, uhn.IncomingCommand{ID: "b", Action: "getIndicatorChannel"})
	require.Error(t, err)

	got := results.all()
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.False(t, got[0].Success)
	assert.Contains(t, got[0].Message, "buffer full")
}

func TestRunPublishesResults(t *testing.T) {
	f := newFixture(t)
	results := &recordingResults{}
	d := NewDispatcher(f.panel, results, 4)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.NoError(t, d.OnCommand(ctx, uhn.IncomingCommand{ID: "1", Action: "getIndicatorChannel"}))
	require.NoError(t, d.OnCommand(ctx, uhn.IncomingCommand{ID: "2", Action: "init"}))

	assert.Eventually(t, func() bool { return len(results.all()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got := results.all()
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, 1, got[0].Value)
	assert.Equal(t, fixed, got[0].Timestamp)
	assert.Equal(t, "2", got[1].ID)
	assert.True(t, got[1].Success)
}
