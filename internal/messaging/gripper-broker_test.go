package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fisaks/uhn-gripper/internal/supervisor"
	"github.com/fisaks/uhn-gripper/internal/uhn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	retain  bool
	payload []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	prefix    string
	msgs      []published
	handlers  map[string]func(context.Context, string, []byte)
	onConnect map[string]OnConnectPublisher
	closed    bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		prefix:    "uhn/cell1/gripper",
		handlers:  map[string]func(context.Context, string, []byte){},
		onConnect: map[string]OnConnectPublisher{},
	}
}

func (f *fakeBroker) Connect(context.Context) error { return nil }
func (f *fakeBroker) IsConnected() bool             { return true }

func (f *fakeBroker) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBroker) Publish(_ context.Context, topic string, _ QoS, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, retain, payload})
	return nil
}

func (f *fakeBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Publish(ctx, topic, qos, retain, data)
}

func (f *fakeBroker) Subscribe(_ context.Context, topic string, _ QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil, nil
}

func (f *fakeBroker) Topic(parts ...string) string {
	return f.prefix + "/" + strings.Join(parts, "/")
}

func (f *fakeBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	f.onConnect[id] = fn
}

func (f *fakeBroker) RemoveOnConnectPublisher(id string) {
	delete(f.onConnect, id)
}

func (f *fakeBroker) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		out = append(out, m.topic)
	}
	return out
}

type recordingSubscriber struct {
	cmds []uhn.IncomingCommand
	err  error
}

func (r *recordingSubscriber) OnCommand(_ context.Context, cmd uhn.IncomingCommand) error {
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func TestPublishLinkHealthOnlyOnChange(t *testing.T) {
	fb := newFakeBroker()
	b := newGripperBroker(fb, nil, 0)
	ctx := context.Background()

	h := supervisor.Health{DeviceID: 1, Connected: true, State: "connected", LatencyMs: 12, LastCheck: time.Now()}
	require.NoError(t, b.PublishLinkHealth(ctx, h))
	h.LatencyMs = 15
	h.LastCheck = h.LastCheck.Add(3 * time.Second)
	require.NoError(t, b.PublishLinkHealth(ctx, h))
	assert.Len(t, fb.topics(), 1, "latency and timestamp alone do not republish")

	h.Connected = false
	require.NoError(t, b.PublishLinkHealth(ctx, h))
	assert.Equal(t, []string{"uhn/cell1/gripper/health", "uhn/cell1/gripper/health"}, fb.topics())
	assert.True(t, fb.msgs[0].retain)

	b.ClearPublishedState()
	require.NoError(t, b.PublishLinkHealth(ctx, h))
	assert.Len(t, fb.topics(), 3)
}

func TestHealthRepublishedOnConnect(t *testing.T) {
	fb := newFakeBroker()
	b := newGripperBroker(fb, nil, 0)

	_, err := fb.onConnect["health"]()
	assert.Error(t, err)

	require.NoError(t, b.PublishLinkHealth(context.Background(), supervisor.Health{DeviceID: 3}))
	req, err := fb.onConnect["health"]()
	require.NoError(t, err)
	assert.Equal(t, "uhn/cell1/gripper/health", req.Topic)
	assert.True(t, req.Retain)
	assert.Equal(t, 3, req.Payload.(supervisor.Health).DeviceID)
}

func TestPublishStatusIgnoresTimestamp(t *testing.T) {
	fb := newFakeBroker()
	b := newGripperBroker(fb, nil, 0)
	ctx := context.Background()

	s := uhn.StatusSnapshot{Timestamp: time.Now(), DeviceID: 1, Success: true,
		Entries: []uhn.StatusEntry{{Name: "clampStatus", Address: 0x41, Success: true, Value: 1}}}
	require.NoError(t, b.PublishStatus(ctx, s))
	s.Timestamp = s.Timestamp.Add(time.Second)
	require.NoError(t, b.PublishStatus(ctx, s))
	assert.Equal(t, []string{"uhn/cell1/gripper/status"}, fb.topics())
}

func TestCommandSubscriber(t *testing.T) {
	fb := newFakeBroker()
	b := newGripperBroker(fb, nil, 0)
	sub := &recordingSubscriber{}
	ctx := context.Background()

	require.NoError(t, b.StartCommandSubscriber(ctx, sub))
	handler := fb.handlers["uhn/cell1/gripper/cmd"]
	require.NotNil(t, handler)

	handler(ctx, "uhn/cell1/gripper/cmd", []byte(`{"id":"c1","action":"move","position":10,"speed":"50"}`))
	require.Len(t, sub.cmds, 1)
	assert.Equal(t, "move", sub.cmds[0].Action)
	assert.Equal(t, float64(10), sub.cmds[0].Position)
	assert.Equal(t, "50", sub.cmds[0].Speed)

	handler(ctx, "uhn/cell1/gripper/cmd", []byte(`{not json`))
	require.Equal(t, []string{"uhn/cell1/gripper/cmd/result"}, fb.topics())
	var res uhn.CommandResult
	require.NoError(t, json.Unmarshal(fb.msgs[0].payload, &res))
	assert.False(t, res.Success)

	sub.err = errors.New("queue full")
	handler(ctx, "uhn/cell1/gripper/cmd", []byte(`{"action":"init"}`))
	assert.Len(t, sub.cmds, 2)
}

func TestCloseDropsOnConnectPublishers(t *testing.T) {
	fb := newFakeBroker()
	catalog := func() (PublishRequest, error) {
		return PublishRequest{Topic: fb.Topic("catalog"), Retain: true}, nil
	}
	b := newGripperBroker(fb, catalog, 0)
	require.Len(t, fb.onConnect, 2)

	require.NoError(t, b.Close(context.Background()))
	assert.Empty(t, fb.onConnect)
	assert.True(t, fb.closed)
}
