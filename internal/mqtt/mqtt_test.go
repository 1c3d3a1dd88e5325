package mqtt

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/risco2mqtt/internal/config"
	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/log"
	"github.com/daemonp/risco2mqtt/internal/panel"
	"github.com/daemonp/risco2mqtt/internal/types"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic   string
	payload string
	retain  bool
}

type fakeClient struct {
	mu         sync.Mutex
	published  []published
	subscribed []string
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, string(payload.([]byte)), retained})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return doneToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {}

func (c *fakeClient) last(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			return c.published[i], true
		}
	}
	return published{}, false
}

type fakePanel struct {
	system     *devices.System
	partitions *devices.List[*devices.Partition]
	zones      *devices.List[*devices.Zone]
	outputs    *devices.List[*devices.Output]
	calls      []string
	result     bool
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		system:     devices.NewSystem(),
		partitions: devices.NewPartitions(2, nil),
		zones:      devices.NewZones(3, nil),
		outputs:    devices.NewOutputs(1, nil),
		result:     true,
	}
}

func (p *fakePanel) Info() panel.Info {
	return panel.Info{PanelID: 1, Type: "RW132", Model: "Agility", MaxZones: 3, MaxPartitions: 2, MaxOutputs: 1}
}
func (p *fakePanel) IsConnected() bool                             { return true }
func (p *fakePanel) System() *devices.System                       { return p.system }
func (p *fakePanel) Partitions() *devices.List[*devices.Partition] { return p.partitions }
func (p *fakePanel) Zones() *devices.List[*devices.Zone]           { return p.zones }
func (p *fakePanel) Outputs() *devices.List[*devices.Output]       { return p.outputs }

func (p *fakePanel) ArmPartition(ctx context.Context, id int, armType types.ArmType) bool {
	p.calls = append(p.calls, "arm "+armType.String())
	return p.result
}

func (p *fakePanel) DisarmPartition(ctx context.Context, id int) bool {
	p.calls = append(p.calls, "disarm")
	return p.result
}

func (p *fakePanel) ToggleBypass(ctx context.Context, id int) bool {
	p.calls = append(p.calls, "bypass")
	return p.result
}

func (p *fakePanel) ToggleOutput(ctx context.Context, id int) bool {
	p.calls = append(p.calls, "output")
	return p.result
}

func newTestMQTT(p Panel) (*MQTT, *fakeClient) {
	cfg := config.Default()
	m := NewMQTT(&cfg.MQTT, p, log.Nop())
	c := &fakeClient{}
	m.client = c
	return m, c
}

func TestTopics(t *testing.T) {
	topics := NewTopics("risco2mqtt/")
	tests := []struct {
		got, want string
	}{
		{topics.Status(), "risco2mqtt/status"},
		{topics.Panel(), "risco2mqtt/panel"},
		{topics.State(devices.ClassSystem, 0), "risco2mqtt/system"},
		{topics.State(devices.ClassZone, 12), "risco2mqtt/zone/12"},
		{topics.Event(devices.ClassPartition, 2), "risco2mqtt/partition/2/event"},
		{topics.Event(devices.ClassSystem, 0), "risco2mqtt/system/event"},
		{topics.PartitionCommand(1), "risco2mqtt/partition/1/set"},
		{topics.BypassCommand(3), "risco2mqtt/zone/3/bypass/set"},
		{topics.OutputCommand(4), "risco2mqtt/output/4/set"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	topics := NewTopics("risco2mqtt")
	tests := []struct {
		topic string
		class devices.Class
		id    int
		ok    bool
	}{
		{topics.PartitionCommand(2), devices.ClassPartition, 2, true},
		{topics.BypassCommand(17), devices.ClassZone, 17, true},
		{topics.OutputCommand(1), devices.ClassOutput, 1, true},
		{"risco2mqtt/zone/3/set", "", 0, false},
		{"risco2mqtt/partition/x/set", "", 0, false},
		{"risco2mqtt/partition/0/set", "", 0, false},
		{"other/partition/1/set", "", 0, false},
		{"risco2mqtt/status", "", 0, false},
	}
	for _, tt := range tests {
		class, id, ok := topics.ParseCommand(tt.topic)
		if class != tt.class || id != tt.id || ok != tt.ok {
			t.Errorf("ParseCommand(%q) = %q, %d, %v", tt.topic, class, id, ok)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"localhost", 1883, "tcp://localhost:1883"},
		{"broker", 0, "tcp://broker:1883"},
		{"mqtt://broker:1884", 1883, "tcp://broker:1884"},
		{"mqtts://broker", 8883, "ssl://broker:8883"},
	}
	for _, tt := range tests {
		if got := BrokerURL(tt.host, tt.port); got != tt.want {
			t.Errorf("BrokerURL(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		topic   string
		payload string
		want    []string
	}{
		{"risco2mqtt/partition/1/set", "ARM_AWAY", []string{"arm Away"}},
		{"risco2mqtt/partition/1/set", "arm_home", []string{"arm Stay"}},
		{"risco2mqtt/partition/2/set", "DISARM", []string{"disarm"}},
		{"risco2mqtt/zone/3/bypass/set", "TOGGLE", []string{"bypass"}},
		{"risco2mqtt/output/1/set", " toggle ", []string{"output"}},
		{"risco2mqtt/partition/1/set", "TRIGGER", nil},
		{"risco2mqtt/zone/3/bypass/set", "ARM_AWAY", nil},
		{"risco2mqtt/unknown", "TOGGLE", nil},
	}
	for _, tt := range tests {
		p := newFakePanel()
		m, _ := newTestMQTT(p)
		m.handleCommand(tt.topic, tt.payload)
		if !reflect.DeepEqual(p.calls, tt.want) {
			t.Errorf("handleCommand(%q, %q) calls = %v, want %v", tt.topic, tt.payload, p.calls, tt.want)
		}
	}
}

func TestHandleEdgeEvent(t *testing.T) {
	p := newFakePanel()
	m, c := newTestMQTT(p)

	p.zones.SetStatus(2, "")
	p.zones.SetStatus(2, "O")
	m.HandleEvent(panel.Event{Type: panel.EventEdge, Edge: devices.Edge{Class: devices.ClassZone, ID: 2, Event: "Open"}})

	state, ok := c.last("risco2mqtt/zone/2")
	if !ok || !state.retain {
		t.Fatalf("zone state not published retained: %+v", state)
	}
	var info devices.ZoneInfo
	if err := json.Unmarshal([]byte(state.payload), &info); err != nil {
		t.Fatalf("zone state payload %q: %v", state.payload, err)
	}
	if info.ID != 2 || !info.Open || info.Label != "Zone 2" {
		t.Errorf("zone state = %+v", info)
	}

	event, ok := c.last("risco2mqtt/zone/2/event")
	if !ok || event.retain || event.payload != `{"event":"Open"}` {
		t.Errorf("event = %+v", event)
	}
}

func TestPublishAll(t *testing.T) {
	p := newFakePanel()
	m, c := newTestMQTT(p)
	m.HandleEvent(panel.Event{Type: panel.EventReady})

	for _, topic := range []string{
		"risco2mqtt/panel",
		"risco2mqtt/system",
		"risco2mqtt/partition/1",
		"risco2mqtt/partition/2",
		"risco2mqtt/zone/3",
		"risco2mqtt/output/1",
	} {
		if _, ok := c.last(topic); !ok {
			t.Errorf("%s not published", topic)
		}
	}

	status, _ := c.last("risco2mqtt/panel")
	var got map[string]interface{}
	if err := json.Unmarshal([]byte(status.payload), &got); err != nil {
		t.Fatal(err)
	}
	if got["model"] != "Agility" || got["connected"] != true || got["max_zones"] != float64(3) {
		t.Errorf("panel payload = %v", got)
	}
}

func TestPublishRawStrings(t *testing.T) {
	m, c := newTestMQTT(newFakePanel())
	m.Publish(m.topics.Status(), onlinePayload, true)
	if got, _ := c.last("risco2mqtt/status"); got.payload != "online" {
		t.Errorf("status payload = %q, want online", got.payload)
	}
}

func TestSubscribeTopics(t *testing.T) {
	m, c := newTestMQTT(newFakePanel())
	m.subscribeTopics()
	want := []string{
		"risco2mqtt/partition/+/set",
		"risco2mqtt/zone/+/bypass/set",
		"risco2mqtt/output/+/set",
	}
	if !reflect.DeepEqual(c.subscribed, want) {
		t.Errorf("subscribed %v, want %v", c.subscribed, want)
	}
}
