package modbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/fisaks/uhn-gripper/internal/config"
	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
)

// SignalClient drives the arm controller's digital outputs. Channel n maps
// to coil CoilBase+n-1 on its own connection, so indicator writes keep
// working while the gripper bus is down.
type SignalClient struct {
	*conn
	cfg config.SignalConfig
}

func NewSignalClient(cfg config.SignalConfig) (*SignalClient, error) {
	var h Handler
	switch strings.ToLower(cfg.Type) {
	case "tcp", "":
		h = tcpHandler(cfg.Address, cfg.Timeout())
	case "rtu":
		h = rtuHandler(cfg.Address, cfg.BaudRate, 8, 1, "N", cfg.Timeout())
	default:
		return nil, fmt.Errorf("unsupported signal type: %s", cfg.Type)
	}
	s := &SignalClient{conn: newConn("signal", h), cfg: cfg}
	if cfg.Debug {
		s.enableDebug("signal", cfg.Address)
	}
	return s, nil
}

func (s *SignalClient) coil(ch int) (uint16, error) {
	if err := gripper.ValidateSignalChannel(ch); err != nil {
		return 0, err
	}
	return s.cfg.CoilBase + uint16(ch-1), nil
}

func (s *SignalClient) WriteDigitalOutput(ctx context.Context, ch int, on bool) error {
	addr, err := s.coil(ch)
	if err != nil {
		return err
	}
	val := uint16(0)
	if on {
		val = 0xFF00
	}
	_, err = s.do(ctx, s.cfg.UnitID, WRITE, func(mc modbus.Client) ([]byte, error) {
		return mc.WriteSingleCoil(addr, val)
	})
	if err != nil {
		return errors.Wrapf(err, "write DO%d (coil %d)", ch, addr)
	}
	return nil
}

func (s *SignalClient) ReadDigitalOutput(ctx context.Context, ch int) (bool, error) {
	addr, err := s.coil(ch)
	if err != nil {
		return false, err
	}
	data, err := s.do(ctx, s.cfg.UnitID, READ, func(mc modbus.Client) ([]byte, error) {
		// FC1, qty=1 returns 1 byte; bit0 is the coil
		return mc.ReadCoils(addr, 1)
	})
	if err != nil {
		return false, errors.Wrapf(err, "read DO%d (coil %d)", ch, addr)
	}
	if len(data) == 0 {
		return false, fmt.Errorf("read DO%d: empty coil response", ch)
	}
	return (data[0] & 0x01) != 0, nil
}

// ReadDigitalOutputs returns channels 1..16 in one request.
func (s *SignalClient) ReadDigitalOutputs(ctx context.Context) ([]bool, error) {
	n := uint16(gripper.MaxSignalChannel)
	data, err := s.do(ctx, s.cfg.UnitID, READ, func(mc modbus.Client) ([]byte, error) {
		return mc.ReadCoils(s.cfg.CoilBase, n)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read DO1..DO%d", n)
	}
	if len(data) < int(n+7)/8 {
		return nil, fmt.Errorf("read DO1..DO%d: short coil response (%d bytes)", n, len(data))
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return out, nil
}
