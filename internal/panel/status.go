package panel

import (
	"context"
	"time"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/uhn"
)

var statusOrder = []gripper.Register{
	gripper.RegGripperID,
	gripper.RegBaudCode,
	gripper.RegInitStatus,
	gripper.RegMotorEnable,
	gripper.RegInitDirection,
	gripper.RegAutoInit,
	gripper.RegRotationStopEnable,
	gripper.RegRotationStopSensitivity,
	gripper.RegClampStatus,
	gripper.RegClampPositionFeedback,
	gripper.RegClampSpeedFeedback,
	gripper.RegClampCurrentFeedback,
	gripper.RegRotationStatus,
	gripper.RegRotationAngleFeedback,
	gripper.RegRotationSpeedFeedback,
	gripper.RegRotationCurrentFeedback,
	gripper.RegClampCurrent,
	gripper.RegSaveParams,
}

// ReadAllStatus reads every status register in a fixed order. Individual
// failures are recorded per entry; the snapshot only fails as a whole when
// the link is down.
func (p *Panel) ReadAllStatus(ctx context.Context) uhn.StatusSnapshot {
	snap := uhn.StatusSnapshot{
		Timestamp: p.ctl.Clock().Now(),
		DeviceID:  p.DeviceID(),
	}
	if !p.connected() {
		snap.Message = "gripper not connected"
		return snap
	}

	var firstErr error
	for _, reg := range statusOrder {
		f, _ := lookupField(reg.Name)
		entry := uhn.StatusEntry{Name: reg.Name, Address: reg.Addr}
		if reg.Float {
			v, err := p.ctl.ReadFloat(ctx, snap.DeviceID, reg)
			if err != nil {
				entry.Message = err.Error()
				if firstErr == nil {
					firstErr = err
				}
			} else {
				entry.Success = true
				entry.Value = roundFloat(v)
			}
		} else {
			v, err := p.ctl.ReadWord(ctx, snap.DeviceID, reg)
			if err != nil {
				entry.Message = err.Error()
				if firstErr == nil {
					firstErr = err
				}
			} else {
				entry.Success = true
				entry.Value = v
				entry.StatusText = f.statusText(v)
			}
		}
		snap.Entries = append(snap.Entries, entry)
	}
	if firstErr != nil {
		p.ioFailed(firstErr)
	}
	snap.Success = true
	return snap
}

// RunStatus publishes a status snapshot every interval while the link is up.
// It blocks until ctx is done.
func (p *Panel) RunStatus(ctx context.Context, interval time.Duration, pub uhn.StatusPublisher) {
	clock := p.ctl.Clock()
	for {
		if err := gripper.Sleep(ctx, clock, interval); err != nil {
			return
		}
		if !p.connected() {
			continue
		}
		snap := p.ReadAllStatus(ctx)
		if err := pub.PublishStatus(ctx, snap); err != nil {
			p.log.Warn("Failed to publish status", "error", err)
		}
	}
}
