package frames

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MotionStatus is reported by the motion executor on <prefix>/status
type MotionStatus struct {
	ID    string `json:"id"`
	State string `json:"state"` // accepted, moving, done, failed
	Error string `json:"error,omitempty"`
}

// Terminal reports whether no further status will follow for this command
func (s MotionStatus) Terminal() bool {
	return s.State == "done" || s.State == "failed"
}

// StatusHandler is called for every decoded executor status message
type StatusHandler func(status MotionStatus)

// MQTTClient manages the MQTT connection to the motion executor
type MQTTClient struct {
	client        mqtt.Client
	publishPrefix string
	statusHandler StatusHandler
	isConnected   bool
	ready         chan struct{} // closed once the status subscription is in place
	stop          chan struct{}
	readyOnce     sync.Once
	stopOnce      sync.Once
	mu            sync.RWMutex
}

// envOr returns the environment variable if set, otherwise fallback
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// If no broker is configured (MQTT_BROKER or mqtt.broker), MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler StatusHandler) (*MQTTClient, error) {
	var mc MQTTConfig
	if config != nil {
		mc = config.MQTT
	}

	broker := envOr("MQTT_BROKER", mc.Broker)
	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	client := NewMQTTClient(nil, topicPrefix(config), handler)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	clientID := envOr("MQTT_CLIENT_ID", mc.ClientID)
	if clientID == "" {
		clientID = "refframe"
	}
	opts.SetClientID(clientID)

	if username := envOr("MQTT_USERNAME", mc.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", mc.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(true) // status updates for one command must arrive in order

	opts.SetOnConnectHandler(client.OnConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)
	client.Start()

	return client, nil
}

// topicPrefix resolves the prefix for command and status topics
func topicPrefix(config *Config) string {
	prefix := ""
	if config != nil {
		prefix = config.MQTT.PublishPrefix
	}
	prefix = envOr("MQTT_PUBLISH_PREFIX", prefix)
	if prefix == "" {
		prefix = "refframe"
	}
	return prefix
}

// Start connects in the background. Use WaitConnected to block until the
// client can send commands and receive their status.
func (c *MQTTClient) Start() {
	go c.connectWithRetry()
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
// until it succeeds or the client is disconnected
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v", retryDelay)
		select {
		case <-c.stop:
			log.Println("[MQTT] giving up: client disconnected")
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// StatusTopic is the topic executor status messages arrive on
func (c *MQTTClient) StatusTopic() string {
	return c.publishPrefix + "/status"
}

// OnConnect is the paho OnConnectHandler. It subscribes to the executor status
// topic and marks the client ready once the subscription is confirmed.
func (c *MQTTClient) OnConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.StatusTopic()
	log.Printf("[MQTT] subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.handleStatusMessage)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("[MQTT] timed out subscribing to %s", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, err)
		return
	}
	c.readyOnce.Do(func() { close(c.ready) })
}

// WaitConnected blocks until the first successful connection has subscribed
// to the status topic, or ctx ends.
func (c *MQTTClient) WaitConnected(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for MQTT connection: %w", ctx.Err())
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// handleStatusMessage decodes a status payload and passes it to the handler
func (c *MQTTClient) handleStatusMessage(client mqtt.Client, msg mqtt.Message) {
	status, err := decodeStatus(msg.Payload())
	if err != nil {
		log.Printf("[MQTT] ignoring status on %s: %v", msg.Topic(), err)
		return
	}
	log.Printf("[MQTT] command %s: %s", status.ID, status.State)

	if handler := c.getStatusHandler(); handler != nil {
		handler(status)
	}
}

func decodeStatus(payload []byte) (MotionStatus, error) {
	var status MotionStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return MotionStatus{}, fmt.Errorf("decoding status: %w", err)
	}
	if status.ID == "" || status.State == "" {
		return MotionStatus{}, fmt.Errorf("status needs id and state")
	}
	return status, nil
}

// SetStatusHandler replaces the status callback
func (c *MQTTClient) SetStatusHandler(handler StatusHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusHandler = handler
}

func (c *MQTTClient) getStatusHandler() StatusHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusHandler
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection and stops connection retries
func (c *MQTTClient) Disconnect() {
	if c.stop != nil {
		c.stopOnce.Do(func() { close(c.stop) })
	}
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// PublishPrefix returns the topic prefix in use
func (c *MQTTClient) PublishPrefix() string {
	return c.publishPrefix
}

// NewMQTTClient wraps an existing mqtt.Client, such as a MockClient.
// The caller wires OnConnect into the client's connect handling.
func NewMQTTClient(client mqtt.Client, prefix string, handler StatusHandler) *MQTTClient {
	return &MQTTClient{
		client:        client,
		publishPrefix: prefix,
		statusHandler: handler,
		ready:         make(chan struct{}),
		stop:          make(chan struct{}),
	}
}
