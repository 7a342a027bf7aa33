package modbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/fisaks/uhn-gripper/internal/config"
	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/logging"
	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
)

// Client reaches the gripper bus, either directly over RS-485 or through a
// Modbus TCP gateway. It implements gripper.Transport; every acquired device
// shares its connection.
type Client struct {
	*conn
	cfg       config.TransportConfig
	maxPerReq uint16
	link      gripper.SerialLinkConfig
}

func NewClient(cfg config.TransportConfig) (*Client, error) {
	link := gripper.DefaultLink()
	var h Handler
	switch strings.ToLower(cfg.Type) {
	case "rtu":
		h = rtuHandler(cfg.Port, link.BaudRate, link.DataBits, link.StopBits, link.ParityCode(), link.Timeout())
	case "tcp":
		h = tcpHandler(cfg.TCPAddr, link.Timeout())
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}

	c := &Client{
		conn:      newConn("gripper", h),
		cfg:       cfg,
		maxPerReq: uint16(cfg.MaxRegistersPerRead) &^ 1, // keep float pairs in one request
		link:      link,
	}
	if c.maxPerReq < 2 {
		c.maxPerReq = MAX_ANALOG_WORDS_PER_READ - 1
	}
	c.settleBefore = cfg.SettleBeforeRequest()
	c.settleAfter = cfg.SettleAfterWrite()
	if cfg.Debug {
		c.enableDebug("transport", cfg.Address())
	}
	return c, nil
}

// ConfigureSerial applies link to the handler and reopens the connection.
// Over a TCP gateway only the response timeout applies; framing is the gateway's.
func (c *Client) ConfigureSerial(ctx context.Context, link gripper.SerialLinkConfig) error {
	if err := link.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch h := c.handler.(type) {
	case *modbus.RTUClientHandler:
		h.BaudRate = link.BaudRate
		h.DataBits = link.DataBits
		h.StopBits = link.StopBits
		h.Parity = link.ParityCode()
		h.Timeout = link.Timeout()
	case *modbus.TCPClientHandler:
		h.Timeout = link.Timeout()
	}
	c.link = link

	_ = c.close()
	c.backoff = 0
	if err := c.ensureConnected(ctx); err != nil {
		return errors.Wrapf(err, "open %s transport %s", c.cfg.Type, c.cfg.Address())
	}
	logging.Debug("Transport configured", "type", c.cfg.Type, "address", c.cfg.Address(), "baud", link.BaudRate, "parity", link.ParityCode())
	return nil
}

func (c *Client) AcquireDevice(ctx context.Context, id uint8) (gripper.RegisterIO, error) {
	c.mu.Lock()
	err := c.ensureConnected(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire unit %d on %s", id, c.cfg.Address())
	}
	return &deviceHandle{client: c, unit: id}, nil
}

// Link returns the serial settings last applied.
func (c *Client) Link() gripper.SerialLinkConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

type deviceHandle struct {
	client *Client
	unit   uint8
}

func (d *deviceHandle) ReadHoldingRegisters(ctx context.Context, addr, count uint16) ([]uint16, error) {
	c := d.client
	read := func(a, q uint16) ([]byte, error) {
		return c.do(ctx, d.unit, READ, func(mc modbus.Client) ([]byte, error) { return mc.ReadHoldingRegisters(a, q) })
	}

	var data []byte
	var err error
	if count <= c.maxPerReq {
		data, err = read(addr, count)
	} else {
		data, err = readWordsChunked(addr, count, c.maxPerReq, read)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unit %d: read holding 0x%02X x%d", d.unit, addr, count)
	}
	words, err := gripper.BytesToWords(data)
	if err != nil {
		return nil, err
	}
	if len(words) != int(count) {
		return nil, fmt.Errorf("unit %d: read holding 0x%02X: got %d words, want %d", d.unit, addr, len(words), count)
	}
	return words, nil
}

func (d *deviceHandle) WriteHoldingRegisters(ctx context.Context, addr uint16, values []uint16) error {
	_, err := d.client.do(ctx, d.unit, WRITE, func(mc modbus.Client) ([]byte, error) {
		if len(values) == 1 {
			return mc.WriteSingleRegister(addr, values[0])
		}
		return mc.WriteMultipleRegisters(addr, uint16(len(values)), gripper.WordsToBytes(values))
	})
	if err != nil {
		return errors.Wrapf(err, "unit %d: write holding 0x%02X x%d", d.unit, addr, len(values))
	}
	return nil
}
