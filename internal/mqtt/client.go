package mqtt

// cSpell:ignore mqtt
import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fisaks/uhn-gripper/internal/logging"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MustConnect returns a client for the CLI tools. A failed first connect is
// logged and left to auto-reconnect.
func MustConnect(brokerURL, clientID string) mqtt.Client {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	c := mqtt.NewClient(opts)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		logging.Error("MQTT connect failed", "broker", brokerURL, "error", tok.Error())
	}
	return c
}

// PublishJSON marshals v and publishes it, waiting up to timeout for the ack.
func PublishJSON(client mqtt.Client, topic string, qos byte, retain bool, v any, timeout time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	token := client.Publish(topic, qos, retain, data)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out after %s", topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
