package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/uhn-gripper/internal/logging"
)

const (
	defaultTokenTimeout = 5 * time.Second
	unsubscribeTimeout  = 3 * time.Second
	disconnectQuiesceMs = 250
)

var ErrNoClient = errors.New("mqtt client not initialized")

type BrokerConfig struct {
	BrokerURL         string
	ClientName        string
	TopicPrefix       string
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	SubscribeTimeout  time.Duration
	CommandBufferSize int
}

type PublishRequest struct {
	// nil means context.Background()
	Context      context.Context
	Topic        string
	Qos          QoS
	Retain       bool
	PayloadBytes []byte
	Payload      interface{}
}

// OnConnectPublisher builds a message that is sent every time the client
// (re)connects, e.g. the retained catalog.
type OnConnectPublisher func() (PublishRequest, error)

type MessageHandler func(ctx context.Context, topic string, payload []byte)

type route struct {
	qos     QoS
	handler MessageHandler
}

// MsgBroker wraps a paho client. Subscriptions are remembered and restored
// after every reconnect since the session is clean.
type MsgBroker struct {
	config BrokerConfig
	client mqtt.Client

	mu         sync.RWMutex
	routes     map[string]route
	onConnect  map[string]OnConnectPublisher
	handlerCtx context.Context
}

func NewBroker(cfg BrokerConfig) Broker {
	return NewMsgBroker(cfg)
}

func NewMsgBroker(cfg BrokerConfig) *MsgBroker {
	return &MsgBroker{
		config:     cfg,
		routes:     make(map[string]route),
		onConnect:  make(map[string]OnConnectPublisher),
		handlerCtx: context.Background(),
	}
}

// Topic joins parts under the configured prefix, e.g. uhn/<name>/gripper/health.
func (b *MsgBroker) Topic(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if p := strings.Trim(b.config.TopicPrefix, "/"); p != "" {
		all = append(all, p)
	}
	all = append(all, parts...)
	return strings.Join(all, "/")
}

func (b *MsgBroker) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(b.config.BrokerURL).
		SetClientID("uhn-gripper-" + b.config.ClientName).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if b.config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(b.config.ConnectTimeout)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost", "clientName", b.config.ClientName, "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logging.Info("MQTT connected", "clientName", b.config.ClientName, "broker", b.config.BrokerURL)
		go func() {
			b.restoreRoutes()
			b.runOnConnect()
		}()
	})
	return opts
}

// Connect dials the broker and blocks until the CONNACK or ctx is done.
// The context also bounds message handlers started by Subscribe.
func (b *MsgBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.client == nil {
		b.client = mqtt.NewClient(b.clientOptions())
	}
	b.handlerCtx = ctx
	client := b.client
	b.mu.Unlock()

	if client.IsConnected() {
		return nil
	}
	if err := await(ctx, client.Connect(), b.config.ConnectTimeout, "connect"); err != nil {
		client.Disconnect(disconnectQuiesceMs)
		return err
	}
	return nil
}

func (b *MsgBroker) IsConnected() bool {
	c := b.mqttClient()
	return c != nil && c.IsConnected()
}

func (b *MsgBroker) mqttClient() mqtt.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *MsgBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect[id] = fn
}

func (b *MsgBroker) RemoveOnConnectPublisher(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.onConnect, id)
}

func (b *MsgBroker) runOnConnect() {
	b.mu.RLock()
	pubs := make(map[string]OnConnectPublisher, len(b.onConnect))
	for id, fn := range b.onConnect {
		pubs[id] = fn
	}
	b.mu.RUnlock()

	for id, fn := range pubs {
		req, err := fn()
		if err != nil {
			logging.Debug("Skipping on-connect publish", "id", id, "reason", err)
			continue
		}
		ctx := req.Context
		if ctx == nil {
			ctx = context.Background()
		}
		if req.PayloadBytes != nil {
			err = b.Publish(ctx, req.Topic, req.Qos, req.Retain, req.PayloadBytes)
		} else {
			err = b.PublishJSON(ctx, req.Topic, req.Qos, req.Retain, req.Payload)
		}
		if err != nil {
			logging.Error("On-connect publish failed", "id", id, "topic", req.Topic, "error", err)
		}
	}
}

// restoreRoutes re-subscribes every remembered topic after a reconnect.
func (b *MsgBroker) restoreRoutes() {
	b.mu.RLock()
	routes := make(map[string]route, len(b.routes))
	for topic, r := range b.routes {
		routes[topic] = r
	}
	ctx := b.handlerCtx
	b.mu.RUnlock()

	for topic, r := range routes {
		if err := b.subscribe(ctx, topic, r); err != nil {
			logging.Error("Re-subscribe failed", "topic", topic, "error", err)
		}
	}
}

func (b *MsgBroker) Close(ctx context.Context) error {
	client := b.mqttClient()
	if client == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		client.Disconnect(disconnectQuiesceMs)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends payload. AsyncNoWait goes out at QoS 0 without waiting on
// the token.
func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	client := b.mqttClient()
	if client == nil {
		return ErrNoClient
	}
	wire, wait := wireQoS(qos)
	token := client.Publish(topic, wire, retain, payload)
	if !wait {
		return nil
	}
	return await(ctx, token, b.config.PublishTimeout, "publish "+topic)
}

func (b *MsgBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return b.Publish(ctx, topic, qos, retain, data)
}

// Subscribe routes topic to handler and waits for the SUBACK. Handlers run
// on their own goroutine; a panic is logged and swallowed.
func (b *MsgBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	r := route{qos: qos, handler: handler}
	if err := b.subscribe(ctx, topic, r); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.routes[topic] = r
	b.mu.Unlock()
	return &msgSubscription{broker: b, topic: topic}, nil
}

func (b *MsgBroker) subscribe(ctx context.Context, topic string, r route) error {
	client := b.mqttClient()
	if client == nil {
		return ErrNoClient
	}
	token := client.Subscribe(topic, byte(r.qos), b.dispatch(r.handler))
	return await(ctx, token, b.config.SubscribeTimeout, "subscribe "+topic)
}

func (b *MsgBroker) dispatch(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		b.mu.RLock()
		ctx := b.handlerCtx
		b.mu.RUnlock()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("MQTT handler panic", "clientName", b.config.ClientName, "topic", msg.Topic(), "panic", r)
				}
			}()
			handler(ctx, msg.Topic(), msg.Payload())
		}()
	}
}

type msgSubscription struct {
	broker *MsgBroker
	topic  string
}

// Unsubscribe forgets the route so it is not restored on reconnect.
func (s *msgSubscription) Unsubscribe(ctx context.Context) error {
	b := s.broker
	b.mu.Lock()
	delete(b.routes, s.topic)
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return ErrNoClient
	}
	return await(ctx, client.Unsubscribe(s.topic), unsubscribeTimeout, "unsubscribe "+s.topic)
}

func wireQoS(qos QoS) (byte, bool) {
	if qos > ExactlyOnce {
		return byte(AtMostOnce), false
	}
	return byte(qos), true
}

// await waits for token to complete, for timeout (default 5s) or until ctx
// is done.
func await(ctx context.Context, token mqtt.Token, timeout time.Duration, what string) error {
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		return nil
	case <-t.C:
		return fmt.Errorf("%s: timeout after %v", what, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
