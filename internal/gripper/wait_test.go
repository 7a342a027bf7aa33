package gripper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReachedOnFirstRead(t *testing.T) {
	ctl, _, dev, clk := connected(1)
	dev.setFloat(RegClampPositionFeedback.Addr, 9.7)
	start := clk.Now()

	out, err := ctl.WaitClampPosition(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, ReachedTarget, out.Result)
	assert.InDelta(t, 9.7, out.Value, 1e-6)
	assert.NoError(t, out.Err())
	assert.Zero(t, clk.Now().Sub(start))
}

func TestWaitConvergesAfterSomeReads(t *testing.T) {
	ctl, _, dev, _ := connected(1)
	var n atomic.Int32
	dev.onRead = func(addr, count uint16) ([]uint16, error) {
		switch addr {
		case RegClampPositionFeedback.Addr:
			v := float32(n.Add(1)) * 2
			return FloatToRegisters(v).Words(), nil
		case RegClampStatus.Addr:
			return []uint16{ClampMoving}, nil
		}
		return make([]uint16, count), nil
	}

	out, err := ctl.WaitClampPosition(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, ReachedTarget, out.Result)
	assert.Equal(t, float32(10), out.Value)
	assert.Equal(t, 4*DefaultCheckInterval, out.Elapsed)
}

func TestWaitFaultPreemptsTimeout(t *testing.T) {
	ctl, _, dev, _ := connected(1)
	dev.setFloat(RegClampPositionFeedback.Addr, 2)
	dev.setWord(RegClampStatus.Addr, ClampDropped)

	out, err := ctl.WaitClampPosition(context.Background(), 1, 15)
	require.NoError(t, err)
	assert.Equal(t, Faulted, out.Result)
	assert.Equal(t, uint16(ClampDropped), out.Status)
	assert.Zero(t, out.Elapsed)
	assert.True(t, errors.Is(out.Err(), ErrFault))
}

func TestWaitRotationFaultStates(t *testing.T) {
	for _, status := range []uint16{RotationObstructed, RotationDropped, RotationStalled} {
		ctl, _, dev, _ := connected(1)
		dev.setFloat(RegRotationAngleFeedback.Addr, 0)
		dev.setWord(RegRotationStatus.Addr, status)

		out, err := ctl.WaitRotationAngle(context.Background(), 1, 90)
		require.NoError(t, err)
		assert.Equal(t, Faulted, out.Result, "status %d", status)
	}
}

func TestWaitRotationWithinTolerance(t *testing.T) {
	ctl, _, dev, _ := connected(1)
	dev.setFloat(RegRotationAngleFeedback.Addr, 91)
	dev.setWord(RegRotationStatus.Addr, RotationStalled)

	out, err := ctl.WaitRotationAngle(context.Background(), 1, 90)
	require.NoError(t, err)
	assert.Equal(t, ReachedTarget, out.Result)
}

func TestWaitTimesOut(t *testing.T) {
	ctl, _, dev, _ := connected(1)
	dev.setFloat(RegClampPositionFeedback.Addr, 2)
	dev.setWord(RegClampStatus.Addr, ClampMoving)

	spec := ClampWait(15)
	spec.Timeout = 2 * time.Second
	out, err := ctl.WaitFor(context.Background(), 1, spec)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, out.Result)
	assert.InDelta(t, float64(spec.Timeout), float64(out.Elapsed), float64(spec.Interval))
	assert.True(t, errors.Is(out.Err(), ErrTimeout))
}

func TestWaitRetriesTransientReadErrors(t *testing.T) {
	ctl, _, dev, _ := connected(1)
	var n atomic.Int32
	dev.onRead = func(addr, count uint16) ([]uint16, error) {
		if addr != RegClampPositionFeedback.Addr {
			return make([]uint16, count), nil
		}
		switch n.Add(1) {
		case 1:
			return nil, errors.New("crc mismatch")
		case 2:
			return []uint16{0x4120}, nil
		}
		return FloatToRegisters(10).Words(), nil
	}

	out, err := ctl.WaitClampPosition(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, ReachedTarget, out.Result)
	assert.Equal(t, 2*DefaultCheckInterval, out.Elapsed)
}

func TestWaitRejectsBadInput(t *testing.T) {
	ctl, _, _, _ := connected(1)

	spec := ClampWait(10)
	spec.Tolerance = 0
	_, err := ctl.WaitFor(context.Background(), 1, spec)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = ctl.WaitClampPosition(context.Background(), 1, 25)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = ctl.WaitClampPosition(context.Background(), 2, 10)
	assert.Equal(t, KindConnection, KindOf(err))
}

func TestWaitCancelled(t *testing.T) {
	ctl, _, dev, _ := connected(1)
	dev.setFloat(RegClampPositionFeedback.Addr, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ctl.WaitClampPosition(ctx, 1, 15)
	assert.ErrorIs(t, err, context.Canceled)
}
