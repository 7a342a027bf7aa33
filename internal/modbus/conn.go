package modbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fisaks/uhn-gripper/internal/logging"
	"github.com/goburrow/modbus"
)

const (
	READ  = uint8(1)
	WRITE = uint8(2)
)

// Handler is satisfied by both the RTU and the TCP client handlers.
type Handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// conn owns one handler and the connection/backoff state around it. All
// request state (slave id, handler settings) is guarded by mu.
type conn struct {
	mu      sync.Mutex
	name    string
	handler Handler
	client  modbus.Client

	settleBefore time.Duration
	settleAfter  time.Duration

	connOK      bool
	backoff     time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration
	lastConnErr error
}

func newConn(name string, handler Handler) *conn {
	return &conn{
		name:       name,
		handler:    handler,
		client:     modbus.NewClient(handler),
		backoff:    0, // means "ready to try now"
		backoffMin: 200 * time.Millisecond,
		backoffMax: 5 * time.Second,
	}
}

func rtuHandler(port string, baud, dataBits, stopBits int, parity string, timeout time.Duration) *modbus.RTUClientHandler {
	h := modbus.NewRTUClientHandler(port)
	h.BaudRate = baud
	h.DataBits = dataBits
	h.StopBits = stopBits
	h.Parity = parity
	h.Timeout = timeout
	return h
}

func tcpHandler(addr string, timeout time.Duration) *modbus.TCPClientHandler {
	h := modbus.NewTCPClientHandler(addr)
	h.Timeout = timeout
	return h
}

func (c *conn) enableDebug(key, value string) {
	switch h := c.handler.(type) {
	case *modbus.RTUClientHandler:
		h.Logger = logging.WrapSlog(key, value)
	case *modbus.TCPClientHandler:
		h.Logger = logging.WrapSlog(key, value)
	}
}

// ensureConnected must be called with mu held.
func (c *conn) ensureConnected(ctx context.Context) error {
	if c.connOK {
		return nil
	}
	if c.backoff > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}

	c.close() // cleanup any stale
	if err := c.handler.Connect(); err != nil {
		c.bumpBackoff(err)
		return err
	}

	c.client = modbus.NewClient(c.handler)
	c.connOK = true
	c.backoff = 0
	c.lastConnErr = nil
	return nil
}

func (c *conn) close() error {
	c.connOK = false
	return c.handler.Close()
}

func (c *conn) bumpBackoff(err error) {
	c.connOK = false
	c.lastConnErr = err
	if c.backoff == 0 {
		c.backoff = c.backoffMin
	} else {
		c.backoff *= 2
		if c.backoff > c.backoffMax {
			c.backoff = c.backoffMax
		}
	}
}

func (c *conn) setSlave(id byte) {
	switch h := c.handler.(type) {
	case *modbus.RTUClientHandler:
		h.SlaveId = id
	case *modbus.TCPClientHandler:
		h.SlaveId = id
	default:
		logging.Error("Unknown Modbus handler type", "type", fmt.Sprintf("%T", h))
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "reset") ||
		strings.Contains(s, "closed") ||
		strings.Contains(s, "i/o") ||
		strings.Contains(s, "eof") ||
		strings.Contains(s, "timeout") {
		return true
	}
	return false
}

// do runs fn against unit. A transient failure drops the connection; reads
// are retried once on a fresh one, writes are not.
func (c *conn) do(ctx context.Context, unit byte, access uint8, fn func(modbus.Client) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	c.setSlave(unit)

	v, err := c.callWithSettle(ctx, access, fn)
	if err == nil {
		return v, nil
	}
	if !isTransient(err) {
		return nil, err
	}
	logging.Warn("Modbus request failed", "conn", c.name, "unit", unit, "error", err)
	c.bumpBackoff(err)
	if access != READ {
		return nil, err
	}
	if err2 := c.ensureConnected(ctx); err2 != nil {
		return nil, err
	}
	c.setSlave(unit)
	return c.callWithSettle(ctx, access, fn)
}

func (c *conn) callWithSettle(ctx context.Context, access uint8, fn func(modbus.Client) ([]byte, error)) ([]byte, error) {
	if err := settle(ctx, c.settleBefore); err != nil {
		return nil, err
	}
	v, err := fn(c.client)
	if err != nil {
		return nil, err
	}
	if access == WRITE {
		if err := settle(ctx, c.settleAfter); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func settle(ctx context.Context, gap time.Duration) error {
	if gap <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(gap):
	}
	return nil
}

// Close drops the connection; the next request reconnects.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}
