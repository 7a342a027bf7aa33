package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/logging"
)

const (
	DefaultTick                 = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultCooldown             = 10 * time.Second
	DefaultIndicatorChannel     = 1
)

// Link is the slice of the command layer the supervisor drives.
type Link interface {
	Connect(ctx context.Context, id int, link gripper.SerialLinkConfig) error
	Disconnect(ctx context.Context, id int) error
	Ping(ctx context.Context, id int) (time.Duration, error)
}

type HealthPublisher interface {
	PublishLinkHealth(ctx context.Context, h Health) error
}

type Config struct {
	DeviceID             int
	Link                 gripper.SerialLinkConfig
	Tick                 time.Duration
	MaxReconnectAttempts int
	Cooldown             time.Duration
	ProbeTimeout         time.Duration
	IndicatorChannel     int
}

type Option func(*Supervisor)

func WithClock(c gripper.Clock) Option { return func(s *Supervisor) { s.clock = c } }

func WithPublisher(p HealthPublisher) Option { return func(s *Supervisor) { s.publisher = p } }

// Supervisor keeps one gripper session alive. Each tick either probes the
// live session or tries to re-establish it, and mirrors the outcome on the
// indicator output of the signal connection.
type Supervisor struct {
	cfg       Config
	link      Link
	signal    gripper.SignalIO
	clock     gripper.Clock
	publisher HealthPublisher
	log       *slog.Logger

	runMu sync.Mutex // one tick or probe at a time

	mu            sync.RWMutex
	state         State
	health        Health
	attempts      int
	indicatorCh   int
	lastIndicator *bool

	kickCh chan struct{}
}

func New(cfg Config, link Link, signal gripper.SignalIO, opts ...Option) (*Supervisor, error) {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.IndicatorChannel == 0 {
		cfg.IndicatorChannel = DefaultIndicatorChannel
	}
	if err := gripper.ValidateDeviceID(cfg.DeviceID); err != nil {
		return nil, err
	}
	if err := cfg.Link.Validate(); err != nil {
		return nil, err
	}
	if err := gripper.ValidateSignalChannel(cfg.IndicatorChannel); err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:         cfg,
		link:        link,
		signal:      signal,
		clock:       gripper.SystemClock,
		log:         logging.With("supervisor"),
		indicatorCh: cfg.IndicatorChannel,
		kickCh:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = Health{
		DeviceID:         cfg.DeviceID,
		State:            Disconnected.String(),
		ModbusStatus:     "not connected",
		MaxAttempts:      cfg.MaxReconnectAttempts,
		IndicatorChannel: cfg.IndicatorChannel,
	}
	return s, nil
}

// Run blocks until ctx is done. The first tick runs immediately; each
// later tick starts one Tick period after the previous one finished.
// CheckNow cuts the wait short.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Info("Supervisor started", "device", s.cfg.DeviceID, "tick", s.cfg.Tick,
		"maxAttempts", s.cfg.MaxReconnectAttempts, "cooldown", s.cfg.Cooldown, "indicator", s.IndicatorChannel())
	for {
		s.tick(ctx)
		if !s.wait(ctx) {
			s.log.Info("Supervisor ctx done", "device", s.cfg.DeviceID)
			return
		}
	}
}

// wait sleeps one tick period on the supervisor clock. It returns false
// once ctx is done.
func (s *Supervisor) wait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.kickCh:
		return true
	case <-s.clock.After(s.cfg.Tick):
		return true
	}
}

// CheckNow ends the current wait between ticks early. It is dropped if a
// check is already pending.
func (s *Supervisor) CheckNow() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.State() == Connected {
		if s.probe(ctx, true) {
			s.publish(ctx)
			return
		}
	}

	s.mu.RLock()
	attempts := s.attempts
	s.mu.RUnlock()

	if attempts >= s.cfg.MaxReconnectAttempts {
		s.log.Warn("Max reconnect attempts reached, cooling down", "attempts", attempts, "cooldown", s.cfg.Cooldown)
		if err := gripper.Sleep(ctx, s.clock, s.cfg.Cooldown); err != nil {
			return
		}
		s.mu.Lock()
		s.attempts = 0
		s.health.ReconnectAttempts = 0
		s.mu.Unlock()
		s.publish(ctx)
		return
	}

	s.reconnect(ctx)
	s.publish(ctx)
}

func (s *Supervisor) reconnect(ctx context.Context) {
	s.mu.RLock()
	attempt := s.attempts + 1
	s.mu.RUnlock()
	s.log.Info("Reconnecting gripper", "device", s.cfg.DeviceID, "attempt", attempt, "max", s.cfg.MaxReconnectAttempts)

	if err := s.link.Connect(ctx, s.cfg.DeviceID, s.cfg.Link); err != nil {
		s.log.Warn("Reconnect failed", "device", s.cfg.DeviceID, "attempt", attempt, "error", err)
		s.mu.Lock()
		s.attempts = attempt
		s.health.ReconnectAttempts = attempt
		s.health.Connected = false
		s.health.LastCheck = s.clock.Now()
		s.health.LastCheckSucceeded = false
		s.health.ModbusStatus = fmt.Sprintf("reconnect failed: %v", err)
		needLow := s.lastIndicator == nil || *s.lastIndicator
		s.mu.Unlock()
		if needLow {
			s.driveIndicator(ctx, false)
		}
		return
	}

	s.mu.Lock()
	s.attempts = 0
	s.health.ReconnectAttempts = 0
	s.mu.Unlock()
	s.probe(ctx, true)
}

// probe reads the id register and records latency. With drive set, the
// indicator follows the result.
func (s *Supervisor) probe(ctx context.Context, drive bool) bool {
	pctx := ctx
	if s.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		defer cancel()
	}
	rtt, err := s.link.Ping(pctx, s.cfg.DeviceID)
	now := s.clock.Now()

	s.mu.Lock()
	s.health.LastCheck = now
	if err != nil {
		s.state = ModbusFaulted
		s.health.Connected = false
		s.health.LastCheckSucceeded = false
		s.health.ModbusStatus = fmt.Sprintf("read failed: %v", err)
	} else {
		s.state = Connected
		s.health.Connected = true
		s.health.LastCheckSucceeded = true
		s.health.LatencyMs = rtt.Milliseconds()
		s.health.ModbusStatus = fmt.Sprintf("connected (response: %dms)", rtt.Milliseconds())
	}
	s.health.State = s.state.String()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("Modbus probe failed", "device", s.cfg.DeviceID, "error", err)
	} else {
		s.log.Debug("Modbus probe ok", "device", s.cfg.DeviceID, "latencyMs", rtt.Milliseconds())
	}
	if drive {
		s.driveIndicator(ctx, err == nil)
	}
	return err == nil
}

// Probe runs a health check outside the tick schedule without touching the indicator.
func (s *Supervisor) Probe(ctx context.Context) Health {
	s.runMu.Lock()
	if s.State() == Disconnected {
		s.mu.Lock()
		s.health.LastCheck = s.clock.Now()
		s.health.LastCheckSucceeded = false
		s.health.ModbusStatus = "not connected"
		s.mu.Unlock()
	} else {
		s.probe(ctx, false)
	}
	s.runMu.Unlock()
	s.publish(ctx)
	return s.Health()
}

func (s *Supervisor) driveIndicator(ctx context.Context, on bool) {
	if s.signal == nil {
		return
	}
	ch := s.IndicatorChannel()
	if err := s.signal.WriteDigitalOutput(ctx, ch, on); err != nil {
		s.log.Warn("Indicator write failed", "channel", ch, "on", on, "error", err)
		return
	}
	s.mu.Lock()
	s.lastIndicator = &on
	s.mu.Unlock()
}

// ReportFailure marks the link down after a collaborator's register IO
// failed. The state machine is left alone; the next probe decides.
func (s *Supervisor) ReportFailure(err error) {
	s.mu.Lock()
	s.health.Connected = false
	s.health.ModbusStatus = fmt.Sprintf("communication error: %v", err)
	s.mu.Unlock()
	s.log.Warn("Link failure reported", "device", s.cfg.DeviceID, "error", err)
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.health
	if s.lastIndicator != nil {
		v := *s.lastIndicator
		h.Indicator = &v
	}
	return h
}

func (s *Supervisor) DeviceID() int { return s.cfg.DeviceID }

func (s *Supervisor) IndicatorChannel() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indicatorCh
}

// SetIndicatorChannel moves the indicator to ch. The old channel keeps its
// last value; the next tick drives the new one.
func (s *Supervisor) SetIndicatorChannel(ch int) error {
	if err := gripper.ValidateSignalChannel(ch); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.indicatorCh
	s.indicatorCh = ch
	s.health.IndicatorChannel = ch
	s.lastIndicator = nil
	s.mu.Unlock()
	s.log.Info("Indicator channel changed", "from", old, "to", ch)
	return nil
}

// Shutdown drives the indicator low and drops the supervised session.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.driveIndicator(ctx, false)
	if err := s.link.Disconnect(ctx, s.cfg.DeviceID); err != nil {
		s.log.Warn("Disconnect failed", "device", s.cfg.DeviceID, "error", err)
	}
	s.mu.Lock()
	s.state = Disconnected
	s.health.State = Disconnected.String()
	s.health.Connected = false
	s.health.ModbusStatus = "not connected"
	s.mu.Unlock()
	s.log.Info("Supervisor stopped", "device", s.cfg.DeviceID)
}

func (s *Supervisor) publish(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLinkHealth(ctx, s.Health()); err != nil {
		s.log.Warn("Failed to publish link health", "error", err)
	}
}
