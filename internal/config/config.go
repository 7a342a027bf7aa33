// internal/config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/logging"
	"gopkg.in/yaml.v3"
)

/* =========================
   Types
   ========================= */

type GripperServiceConfig struct {
	Transport         TransportConfig  `json:"transport" yaml:"transport"`
	Gripper           GripperConfig    `json:"gripper" yaml:"gripper"`
	Signal            SignalConfig     `json:"signal" yaml:"signal"`
	Supervisor        SupervisorConfig `json:"supervisor" yaml:"supervisor"`
	Wait              WaitConfig       `json:"wait" yaml:"wait"`
	HeartbeatInterval int              `json:"heartbeatInterval" yaml:"heartbeatInterval"` // seconds
	StatusIntervalMs  int              `json:"statusIntervalMs" yaml:"statusIntervalMs"`
	CommandBufferSize int              `json:"commandBufferSize" yaml:"commandBufferSize"`
}

// TransportConfig is the Modbus master that reaches the gripper, either a
// local RS-485 port or a TCP gateway in front of the wrist bus.
type TransportConfig struct {
	Type                  string `json:"type" yaml:"type"` // "rtu" | "tcp"
	Port                  string `json:"port" yaml:"port"`
	TCPAddr               string `json:"tcpAddr" yaml:"tcpAddr"`
	SettleBeforeRequestMs int    `json:"settleBeforeRequestMs" yaml:"settleBeforeRequestMs"`
	SettleAfterWriteMs    int    `json:"settleAfterWriteMs" yaml:"settleAfterWriteMs"`
	MaxRegistersPerRead   int    `json:"maxRegistersPerRead" yaml:"maxRegistersPerRead"`
	Debug                 bool   `json:"debug" yaml:"debug"`
}

type GripperConfig struct {
	DeviceID  int    `json:"deviceId" yaml:"deviceId"`
	BaudRate  int    `json:"baudRate" yaml:"baudRate"`
	Parity    string `json:"parity" yaml:"parity"` // NONE | ODD | EVEN
	DataBits  int    `json:"dataBits" yaml:"dataBits"`
	StopBits  int    `json:"stopBits" yaml:"stopBits"`
	TimeoutMs int    `json:"timeoutMs" yaml:"timeoutMs"`
}

// SignalConfig is the arm controller's digital outputs, reached as coils on
// a connection of their own.
type SignalConfig struct {
	Type             string `json:"type" yaml:"type"`       // "tcp" | "rtu"
	Address          string `json:"address" yaml:"address"` // host:port or serial port
	BaudRate         int    `json:"baudRate" yaml:"baudRate"`
	UnitID           uint8  `json:"unitId" yaml:"unitId"`
	CoilBase         uint16 `json:"coilBase" yaml:"coilBase"` // coil address of channel 1
	IndicatorChannel int    `json:"indicatorChannel" yaml:"indicatorChannel"`
	TimeoutMs        int    `json:"timeoutMs" yaml:"timeoutMs"`
	Debug            bool   `json:"debug" yaml:"debug"`
}

type SupervisorConfig struct {
	TickMs               int `json:"tickMs" yaml:"tickMs"`
	MaxReconnectAttempts int `json:"maxReconnectAttempts" yaml:"maxReconnectAttempts"`
	CooldownMs           int `json:"cooldownMs" yaml:"cooldownMs"`
	ProbeTimeoutMs       int `json:"probeTimeoutMs" yaml:"probeTimeoutMs"`
}

type WaitConfig struct {
	ClampTolerance    float64 `json:"clampTolerance" yaml:"clampTolerance"`
	RotationTolerance float64 `json:"rotationTolerance" yaml:"rotationTolerance"`
	TimeoutMs         int     `json:"timeoutMs" yaml:"timeoutMs"`
	CheckIntervalMs   int     `json:"checkIntervalMs" yaml:"checkIntervalMs"`
}

/* =========================
   Helpers
   ========================= */

func (t TransportConfig) SettleBeforeRequest() time.Duration {
	return time.Duration(t.SettleBeforeRequestMs) * time.Millisecond
}
func (t TransportConfig) SettleAfterWrite() time.Duration {
	return time.Duration(t.SettleAfterWriteMs) * time.Millisecond
}
func (t TransportConfig) Address() string {
	if strings.EqualFold(t.Type, "tcp") {
		return t.TCPAddr
	}
	return t.Port
}

func (g GripperConfig) Link() gripper.SerialLinkConfig {
	return gripper.SerialLinkConfig{
		BaudRate:  g.BaudRate,
		Parity:    strings.ToUpper(g.Parity),
		DataBits:  g.DataBits,
		StopBits:  g.StopBits,
		TimeoutMs: g.TimeoutMs,
	}
}

func (s SignalConfig) Timeout() time.Duration { return time.Duration(s.TimeoutMs) * time.Millisecond }

func (s SupervisorConfig) Tick() time.Duration { return time.Duration(s.TickMs) * time.Millisecond }
func (s SupervisorConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownMs) * time.Millisecond
}
func (s SupervisorConfig) ProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeoutMs) * time.Millisecond
}

func (w WaitConfig) Timeout() time.Duration { return time.Duration(w.TimeoutMs) * time.Millisecond }
func (w WaitConfig) CheckInterval() time.Duration {
	return time.Duration(w.CheckIntervalMs) * time.Millisecond
}

func (c *GripperServiceConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalMs) * time.Millisecond
}

/* =========================
   Strict load + validate
   ========================= */

// Load reads a JSON (comments allowed) or YAML config, chosen by extension.
func Load(path string) (*GripperServiceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decode(raw, "yaml")
	default:
		return decode(raw, "json")
	}
}

// LoadFromReader is Load for an already-open source; format is "json" or "yaml".
func LoadFromReader(r io.Reader, format string) (*GripperServiceConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decode(raw, format)
}

func decode(raw []byte, format string) (*GripperServiceConfig, error) {
	var cfg GripperServiceConfig
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(stripJSONComments(raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate fills defaults and reports every problem at once.
func (c *GripperServiceConfig) Validate() error {
	var errs multiErr

	/* Transport */
	t := &c.Transport
	switch strings.ToLower(t.Type) {
	case "rtu":
		if strings.TrimSpace(t.Port) == "" {
			errs.add("transport: port is required for type=rtu")
		}
	case "tcp":
		if strings.TrimSpace(t.TCPAddr) == "" {
			errs.add("transport: tcpAddr is required for type=tcp")
		}
	default:
		errs.add("transport: type must be 'rtu' or 'tcp'")
	}
	if t.SettleBeforeRequestMs < 0 || t.SettleAfterWriteMs < 0 {
		errs.add("transport: settle timings cannot be negative")
	}
	if t.MaxRegistersPerRead == 0 {
		t.MaxRegistersPerRead = 125
	}
	if t.MaxRegistersPerRead < 2 || t.MaxRegistersPerRead > 125 {
		errs.add("transport: maxRegistersPerRead must be 2..125")
	}

	/* Gripper */
	g := &c.Gripper
	if g.DeviceID == 0 {
		g.DeviceID = 1
	}
	if g.BaudRate == 0 {
		g.BaudRate = 115200
	}
	if g.Parity == "" {
		g.Parity = "NONE"
	}
	if g.DataBits == 0 {
		g.DataBits = 8
	}
	if g.StopBits == 0 {
		g.StopBits = 1
	}
	if g.TimeoutMs == 0 {
		g.TimeoutMs = 500
	}
	if err := gripper.ValidateDeviceID(g.DeviceID); err != nil {
		errs.addf("gripper: %v", err)
	}
	if err := g.Link().Validate(); err != nil {
		errs.addf("gripper: %v", err)
	}

	/* Signal */
	s := &c.Signal
	if s.Type == "" {
		s.Type = "tcp"
	}
	switch strings.ToLower(s.Type) {
	case "tcp", "rtu":
		if strings.TrimSpace(s.Address) == "" {
			errs.addf("signal: address is required for type=%s", s.Type)
		}
	default:
		errs.add("signal: type must be 'tcp' or 'rtu'")
	}
	if s.BaudRate == 0 {
		s.BaudRate = 115200
	}
	if s.UnitID == 0 {
		s.UnitID = 1
	}
	if s.TimeoutMs <= 0 {
		s.TimeoutMs = 500
	}
	if s.IndicatorChannel == 0 {
		s.IndicatorChannel = 1
	}
	if err := gripper.ValidateSignalChannel(s.IndicatorChannel); err != nil {
		errs.addf("signal: %v", err)
	}

	/* Supervisor */
	sv := &c.Supervisor
	if sv.TickMs <= 0 {
		sv.TickMs = 3000
	}
	if sv.MaxReconnectAttempts <= 0 {
		sv.MaxReconnectAttempts = 5
	}
	if sv.CooldownMs <= 0 {
		sv.CooldownMs = 10000
	}
	if sv.ProbeTimeoutMs < 0 {
		errs.add("supervisor: probeTimeoutMs cannot be negative")
	}

	/* Wait */
	w := &c.Wait
	if w.ClampTolerance == 0 {
		w.ClampTolerance = gripper.DefaultClampTolerance
	}
	if w.RotationTolerance == 0 {
		w.RotationTolerance = gripper.DefaultRotationTolerance
	}
	if w.ClampTolerance < 0 || w.RotationTolerance < 0 {
		errs.add("wait: tolerances must be > 0")
	}
	if w.TimeoutMs <= 0 {
		w.TimeoutMs = int(gripper.DefaultWaitTimeout / time.Millisecond)
	}
	if w.CheckIntervalMs <= 0 {
		w.CheckIntervalMs = int(gripper.DefaultCheckInterval / time.Millisecond)
	}

	/* Publishing */
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 60 // default 60s
	}
	if c.HeartbeatInterval == 0 {
		logging.Warn("heartbeatInterval=0 configured, heartbeats disabled")
	}
	if c.StatusIntervalMs == 0 {
		c.StatusIntervalMs = 1000
	}
	if c.StatusIntervalMs < 100 {
		errs.add("statusIntervalMs must be >= 100")
	}
	if c.CommandBufferSize <= 0 {
		c.CommandBufferSize = 16
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

/* =========================
   Comment stripping + utils
   ========================= */

var (
	lineComments  = regexp.MustCompile(`(?m)^\s*//[^\n\r]*|\s+//[^\n\r]*`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripJSONComments(in []byte) []byte {
	text := string(in)
	text = blockComments.ReplaceAllString(text, "")
	text = lineComments.ReplaceAllString(text, "")
	return []byte(text)
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
