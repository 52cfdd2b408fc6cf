package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"droneDispatch/internal/config"
)

// QoS levels by message class: telemetry tolerates duplicates, commands do not.
const (
	QoSTelemetry byte = 1
	QoSCommand   byte = 2
)

// Client is the process-scoped broker connection. Subscriptions registered
// through it survive reconnects; publishes use a bounded timeout so a slow
// broker never stalls a handler.
type Client struct {
	cfg  config.MQTTConfig
	log  *zap.Logger
	conn paho.Client

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler func(topic string, payload []byte)
}

func NewClient(cfg config.MQTTConfig, log *zap.Logger) *Client {
	c := &Client{cfg: cfg, log: log, subs: make(map[string]subscription)}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	// The broker announces our death on the retained status topic.
	if will, err := json.Marshal(ServerStatus{Online: false, Timestamp: time.Now().UTC()}); err == nil {
		opts.SetBinaryWill(ServerStatusTopic, will, QoSTelemetry, true)
	}
	opts.SetOnConnectHandler(func(pc paho.Client) {
		c.log.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
		c.resubscribe()
		if err := c.Publish(ServerStatusTopic, QoSTelemetry, true, ServerStatus{Online: true, Timestamp: time.Now().UTC()}); err != nil {
			c.log.Warn("server status publish failed", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(pc paho.Client, err error) {
		c.log.Warn("mqtt connection lost", zap.Error(err))
	})

	c.conn = paho.NewClient(opts)
	return c
}

// Start connects to the broker, waiting at most the configured timeout.
func (c *Client) Start() error {
	tok := c.conn.Connect()
	if !tok.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out", c.cfg.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", c.cfg.BrokerURL, err)
	}
	return nil
}

// Stop announces the shutdown and disconnects, allowing in-flight messages a
// short grace period.
func (c *Client) Stop() {
	if err := c.Publish(ServerStatusTopic, QoSTelemetry, true, ServerStatus{Online: false, Timestamp: time.Now().UTC()}); err != nil {
		c.log.Warn("server status publish failed", zap.Error(err))
	}
	c.conn.Disconnect(500)
	c.log.Info("mqtt disconnected")
}

// Publish marshals v to JSON and publishes it with a bounded wait.
func (c *Client) Publish(topic string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", topic, err)
	}
	tok := c.conn.Publish(topic, qos, retained, payload)
	if !tok.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return tok.Error()
}

// Subscribe registers a handler for a topic filter. The registration is
// remembered and replayed after every reconnect.
func (c *Client) Subscribe(filter string, qos byte, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[filter] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	tok := c.conn.Subscribe(filter, qos, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("subscribe to %s timed out", filter)
	}
	return tok.Error()
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for f, s := range c.subs {
		subs[f] = s
	}
	c.mu.Unlock()

	for filter, sub := range subs {
		h := sub.handler
		tok := c.conn.Subscribe(filter, sub.qos, func(_ paho.Client, m paho.Message) {
			h(m.Topic(), m.Payload())
		})
		if !tok.WaitTimeout(c.cfg.PublishTimeout) || tok.Error() != nil {
			c.log.Error("resubscribe failed", zap.String("filter", filter), zap.Error(tok.Error()))
		}
	}
}
