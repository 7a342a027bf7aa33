package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fisaks/uhn-gripper/internal/logging"
	"github.com/fisaks/uhn-gripper/internal/state"
	"github.com/fisaks/uhn-gripper/internal/supervisor"
	"github.com/fisaks/uhn-gripper/internal/uhn"
)

type GripperBroker interface {
	Broker
	supervisor.HealthPublisher
	uhn.StatusPublisher
	uhn.ResultPublisher
	StartCommandSubscriber(ctx context.Context, subscriber uhn.CommandSubscriber) error
	ClearPublishedState()
}

type gripperBroker struct {
	Broker
	subscriber        uhn.CommandSubscriber
	published         state.PublishStateStore
	heartbeatInterval time.Duration

	mu         sync.RWMutex
	lastHealth *supervisor.Health
}

func NewGripperBroker(cfg BrokerConfig, catalog OnConnectPublisher, heartbeatInterval time.Duration) GripperBroker {
	return newGripperBroker(NewBroker(cfg), catalog, heartbeatInterval)
}

func newGripperBroker(broker Broker, catalog OnConnectPublisher, heartbeatInterval time.Duration) *gripperBroker {
	b := &gripperBroker{
		Broker:            broker,
		published:         state.NewPublishStateStore(),
		heartbeatInterval: heartbeatInterval,
	}
	if catalog != nil {
		b.AddOnConnectPublisher(catalogPublisherID, catalog)
	}
	b.AddOnConnectPublisher(healthPublisherID, b.healthOnConnect)
	return b
}

const (
	catalogPublisherID = "catalog"
	healthPublisherID  = "health"
)

// Close stops republishing the catalog and health on reconnect, then
// disconnects.
func (b *gripperBroker) Close(ctx context.Context) error {
	b.RemoveOnConnectPublisher(catalogPublisherID)
	b.RemoveOnConnectPublisher(healthPublisherID)
	return b.Broker.Close(ctx)
}

func (b *gripperBroker) healthOnConnect() (PublishRequest, error) {
	b.mu.RLock()
	h := b.lastHealth
	b.mu.RUnlock()
	if h == nil {
		return PublishRequest{}, fmt.Errorf("no link health yet")
	}
	return PublishRequest{Topic: b.Topic("health"), Qos: AtLeastOnce, Retain: true, Payload: *h}, nil
}

func (b *gripperBroker) ClearPublishedState() {
	b.published.Clear()
}

func healthFingerprint(h supervisor.Health) []byte {
	ind := "-"
	if h.Indicator != nil {
		ind = fmt.Sprint(*h.Indicator)
	}
	return fmt.Appendf(nil, "%t|%s|%t|%d|%d|%s", h.Connected, h.State, h.LastCheckSucceeded,
		h.ReconnectAttempts, h.IndicatorChannel, ind)
}

func (b *gripperBroker) PublishLinkHealth(ctx context.Context, h supervisor.Health) error {
	b.mu.Lock()
	b.lastHealth = &h
	b.mu.Unlock()

	fp := healthFingerprint(h)
	if !b.published.NeedsPublish("health", fp, b.heartbeatInterval) {
		return nil
	}
	logging.Debug("Publishing link health", "health", h)
	err := b.PublishJSON(ctx, b.Topic("health"), FireAndForget, true, h)
	if err == nil {
		b.published.Update("health", fp)
	}
	return err
}

func (b *gripperBroker) PublishStatus(ctx context.Context, status uhn.StatusSnapshot) error {
	fp, err := json.Marshal(struct {
		Success bool
		Message string
		Entries []uhn.StatusEntry
	}{status.Success, status.Message, status.Entries})
	if err != nil {
		return err
	}
	if !b.published.NeedsPublish("status", fp, b.heartbeatInterval) {
		return nil
	}
	err = b.PublishJSON(ctx, b.Topic("status"), FireAndForget, true, status)
	if err == nil {
		b.published.Update("status", fp)
	}
	return err
}

func (b *gripperBroker) PublishCommandResult(ctx context.Context, result uhn.CommandResult) error {
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	return b.PublishJSON(ctx, b.Topic("cmd", "result"), AtLeastOnce, false, result)
}

func (b *gripperBroker) StartCommandSubscriber(ctx context.Context, subscriber uhn.CommandSubscriber) error {
	b.subscriber = subscriber
	_, err := b.Subscribe(ctx, b.Topic("cmd"), AtLeastOnce, b.OnMessage)
	return err
}

func (b *gripperBroker) OnMessage(ctx context.Context, topic string, payload []byte) {
	logging.Debug("Received cmd message", "topic", topic)

	var cmd uhn.IncomingCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logging.Warn("cmd json", "error", err)
		if perr := b.PublishCommandResult(ctx, uhn.CommandResult{Success: false, Message: "invalid command JSON: " + err.Error()}); perr != nil {
			logging.Warn("Failed to publish command result", "error", perr)
		}
		return
	}
	if b.subscriber == nil {
		logging.Warn("cmd received before subscriber was set", "action", cmd.Action)
		return
	}
	if err := b.subscriber.OnCommand(ctx, cmd); err != nil {
		logging.Warn("cmd handling", "id", cmd.ID, "action", cmd.Action, "error", err)
	}
}
