package uhn

import (
	"context"
	"time"

	"github.com/fisaks/uhn-gripper/internal/gripper"
)

// IncomingCommand is the loose JSON shape received on the cmd topic.
// Numeric fields accept numbers or numeric strings.
type IncomingCommand struct {
	ID        string                    `json:"id,omitempty"`
	Action    string                    `json:"action"`
	DeviceID  any                       `json:"deviceId,omitempty"`
	Register  string                    `json:"register,omitempty"` // register name, see catalog
	Value     any                       `json:"value,omitempty"`
	Position  any                       `json:"position,omitempty"`
	Angle     any                       `json:"angle,omitempty"`
	Speed     any                       `json:"speed,omitempty"`
	Target    any                       `json:"target,omitempty"`
	Channel   any                       `json:"channel,omitempty"`
	PulseMs   any                       `json:"pulseMs,omitempty"`
	TimeoutMs any                       `json:"timeoutMs,omitempty"`
	Wait      bool                      `json:"wait,omitempty"`
	Link      *gripper.SerialLinkConfig `json:"link,omitempty"`
}

type CommandResult struct {
	ID         string    `json:"id,omitempty"`
	Action     string    `json:"action"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Value      any       `json:"value,omitempty"`
	StatusText string    `json:"statusText,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

type StatusEntry struct {
	Name       string `json:"name"`
	Address    uint16 `json:"address"`
	Success    bool   `json:"success"`
	Value      any    `json:"value,omitempty"`
	Message    string `json:"message"`
	StatusText string `json:"statusText,omitempty"`
}

// StatusSnapshot is one read-all-status pass over the gripper.
type StatusSnapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	DeviceID  int           `json:"deviceId"`
	Success   bool          `json:"success"`
	Message   string        `json:"message,omitempty"`
	Entries   []StatusEntry `json:"entries,omitempty"`
}

type CommandSubscriber interface {
	OnCommand(ctx context.Context, command IncomingCommand) error
}
type ResultPublisher interface {
	PublishCommandResult(ctx context.Context, result CommandResult) error
}
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status StatusSnapshot) error
}
