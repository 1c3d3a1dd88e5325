package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/risco2mqtt/internal/config"
	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/log"
	"github.com/daemonp/risco2mqtt/internal/panel"
	"github.com/daemonp/risco2mqtt/internal/types"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"

	commandTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

type MQTT struct {
	config  *config.MQTTConfig
	panel   Panel
	log     *log.Logger
	client  client
	topics  *Topics
	timeout time.Duration
	mu      sync.Mutex
}

func NewMQTT(cfg *config.MQTTConfig, p Panel, logger *log.Logger) *MQTT {
	return &MQTT{
		config:  cfg,
		panel:   p,
		log:     logger.With("mqtt"),
		topics:  NewTopics(cfg.Prefix),
		timeout: commandTimeout,
	}
}

func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(m.config.Host, m.config.Port))
	opts.SetClientID(m.config.ClientID)
	opts.SetUsername(m.config.Username)
	opts.SetPassword(m.config.Password)
	opts.SetCleanSession(m.config.Clean)
	opts.SetKeepAlive(time.Duration(m.config.Keepalive) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onDisconnect)

	opts.SetWill(m.topics.Status(), offlinePayload, byte(m.config.QOS), true)

	c := mqtt.NewClient(opts)
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()

	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	m.log.Info("Connected to MQTT broker: %s:%d", m.config.Host, m.config.Port)
	return nil
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.log.Info("MQTT connection established")
	m.Publish(m.topics.Status(), onlinePayload, true)
	m.subscribeTopics()
	if m.panel.IsConnected() {
		m.PublishAll()
	}
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) subscribeTopics() {
	c := m.getClient()
	for _, topic := range m.topics.Commands() {
		token := c.Subscribe(topic, byte(m.config.QOS), m.handleMessage)
		if token.Wait() && token.Error() != nil {
			m.log.Error("Failed to subscribe to topic %s: %v", topic, token.Error())
		} else {
			m.log.Debug("Subscribed to topic: %s", topic)
		}
	}
}

func (m *MQTT) handleMessage(client mqtt.Client, msg mqtt.Message) {
	go m.handleCommand(msg.Topic(), string(msg.Payload()))
}

// handleCommand runs the panel command addressed by topic and logs its
// outcome.
func (m *MQTT) handleCommand(topic, payload string) {
	m.log.Debug("Received message on topic %s: %s", topic, payload)

	class, id, ok := m.topics.ParseCommand(topic)
	if !ok {
		m.log.Warn("Received message on unknown topic: %s", topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	command := strings.ToUpper(strings.TrimSpace(payload))
	var done bool
	switch {
	case class == devices.ClassPartition && command == "ARM_AWAY":
		done = m.panel.ArmPartition(ctx, id, types.ArmTypeAway)
	case class == devices.ClassPartition && command == "ARM_HOME":
		done = m.panel.ArmPartition(ctx, id, types.ArmTypeStay)
	case class == devices.ClassPartition && command == "DISARM":
		done = m.panel.DisarmPartition(ctx, id)
	case class == devices.ClassZone && command == "TOGGLE":
		done = m.panel.ToggleBypass(ctx, id)
	case class == devices.ClassOutput && command == "TOGGLE":
		done = m.panel.ToggleOutput(ctx, id)
	default:
		m.log.Warn("Unknown %s command: %s", class, payload)
		return
	}

	if done {
		m.log.Info("%s %d: %s done", class, id, command)
	} else {
		m.log.Warn("%s %d: %s failed", class, id, command)
	}
}

// HandleEvent mirrors a panel event to the broker.
func (m *MQTT) HandleEvent(e panel.Event) {
	switch e.Type {
	case panel.EventReady:
		m.PublishAll()
	case panel.EventEdge:
		m.publishState(e.Edge.Class, e.Edge.ID)
		m.Publish(m.topics.Event(e.Edge.Class, e.Edge.ID), map[string]string{"event": e.Edge.Event}, false)
	case panel.EventDisconnected:
		m.publishPanelInfo()
	}
}

// PublishAll publishes the panel description and the state of every entity.
func (m *MQTT) PublishAll() {
	m.publishPanelInfo()
	if s := m.panel.System(); s != nil {
		m.Publish(m.topics.State(devices.ClassSystem, 0), s.Info(), true)
	}
	if parts := m.panel.Partitions(); parts != nil {
		for _, p := range parts.All() {
			m.Publish(m.topics.State(devices.ClassPartition, p.ID()), p.Info(), true)
		}
	}
	if zones := m.panel.Zones(); zones != nil {
		for _, z := range zones.All() {
			m.Publish(m.topics.State(devices.ClassZone, z.ID()), z.Info(), true)
		}
	}
	if outputs := m.panel.Outputs(); outputs != nil {
		for _, o := range outputs.All() {
			m.Publish(m.topics.State(devices.ClassOutput, o.ID()), o.Info(), true)
		}
	}
}

type panelStatus struct {
	panel.Info
	Connected bool `json:"connected"`
}

func (m *MQTT) publishPanelInfo() {
	m.Publish(m.topics.Panel(), panelStatus{Info: m.panel.Info(), Connected: m.panel.IsConnected()}, true)
}

func (m *MQTT) publishState(class devices.Class, id int) {
	topic := m.topics.State(class, id)
	switch class {
	case devices.ClassSystem:
		if s := m.panel.System(); s != nil {
			m.Publish(topic, s.Info(), true)
		}
	case devices.ClassPartition:
		if parts := m.panel.Partitions(); parts != nil {
			if p, ok := parts.ByID(id); ok {
				m.Publish(topic, p.Info(), true)
			}
		}
	case devices.ClassZone:
		if zones := m.panel.Zones(); zones != nil {
			if z, ok := zones.ByID(id); ok {
				m.Publish(topic, z.Info(), true)
			}
		}
	case devices.ClassOutput:
		if outputs := m.panel.Outputs(); outputs != nil {
			if o, ok := outputs.ByID(id); ok {
				m.Publish(topic, o.Info(), true)
			}
		}
	}
}

func (m *MQTT) GetPrefix() string {
	return m.config.Prefix
}

func (m *MQTT) Topics() *Topics {
	return m.topics
}

// Publish sends payload to topic. Strings and byte slices go out as is,
// anything else as JSON.
func (m *MQTT) Publish(topic string, message interface{}, retain bool) {
	var payload []byte
	switch v := message.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		var err error
		if payload, err = json.Marshal(message); err != nil {
			m.log.Error("Failed to marshal message for topic %s: %v", topic, err)
			return
		}
	}

	c := m.getClient()
	if c == nil {
		return
	}
	token := c.Publish(topic, byte(m.config.QOS), retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		m.log.Error("Timed out publishing to topic %s", topic)
	} else if token.Error() != nil {
		m.log.Error("Failed to publish message to topic %s: %v", topic, token.Error())
	} else {
		m.log.Trace("Published message to topic: %s", topic)
	}
}

func (m *MQTT) getClient() client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *MQTT) Close() {
	c := m.getClient()
	if c != nil && c.IsConnected() {
		m.Publish(m.topics.Status(), offlinePayload, true)
		c.Disconnect(250)
	}
}
