package ha

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client is a thin wrapper over paho that keeps subscriptions alive across
// broker reconnects.
type Client struct {
	client mqtt.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

type BrokerConfig struct {
	URI      string
	Username string
	Password string
	ClientID string
}

func NewClient(cfg BrokerConfig, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "finder-bliss-" + randomSuffix()
	}

	c := &Client{logger: logger, subs: map[string]mqtt.MessageHandler{}}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URI)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(_ mqtt.Client) {
		c.resubscribeAll()
	}

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return c, nil
}

func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if token := c.client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, token.Error())
	}
	return nil
}

func (c *Client) Subscribe(topic string, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if token := c.client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) resubscribeAll() {
	c.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(c.subs))
	for topic, handler := range c.subs {
		subs[topic] = handler
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		if token := c.client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			c.logger.Warn("mqtt resubscribe failed", "topic", topic, "err", token.Error())
		}
	}
}

func randomSuffix() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
