package homeassistant

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/daemonp/risco2mqtt/internal/config"
	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/log"
	"github.com/daemonp/risco2mqtt/internal/mqtt"
	"github.com/daemonp/risco2mqtt/internal/panel"
	"github.com/daemonp/risco2mqtt/internal/types"
)

type fakeMQTT struct {
	topics    *mqtt.Topics
	published map[string]string
}

func (f *fakeMQTT) GetPrefix() string    { return "risco2mqtt" }
func (f *fakeMQTT) Topics() *mqtt.Topics { return f.topics }
func (f *fakeMQTT) Publish(topic string, payload interface{}, retain bool) {
	f.published[topic] = payload.(string)
}

type fakePanel struct {
	partitions *devices.List[*devices.Partition]
	zones      *devices.List[*devices.Zone]
	outputs    *devices.List[*devices.Output]
}

func (p *fakePanel) Info() panel.Info {
	return panel.Info{PanelID: 1, Type: "RP432", Model: "LightSys", Firmware: "3.11"}
}
func (p *fakePanel) Partitions() *devices.List[*devices.Partition] { return p.partitions }
func (p *fakePanel) Zones() *devices.List[*devices.Zone]           { return p.zones }
func (p *fakePanel) Outputs() *devices.List[*devices.Output]       { return p.outputs }

func TestGetDeviceClass(t *testing.T) {
	tests := []struct {
		name     string
		zoneType types.ZoneType
		override string
		want     string
	}{
		{"Hall", types.ZoneTypeFire, "", "smoke"},
		{"Cellar", types.ZoneTypeWater, "", "moisture"},
		{"Front Door", types.ZoneType(1), "", "door"},
		{"Kitchen Window", types.ZoneType(5), "", "window"},
		{"Landing PIR", types.ZoneType(5), "", "motion"},
		{"Garage", types.ZoneType(5), "", "motion"},
		{"Front Door", types.ZoneType(1), "garage_door", "garage_door"},
	}
	for _, tt := range tests {
		if got := getDeviceClass(tt.name, tt.zoneType, tt.override); got != tt.want {
			t.Errorf("getDeviceClass(%q, %d, %q) = %q, want %q", tt.name, tt.zoneType, tt.override, got, tt.want)
		}
	}
}

func TestPublish(t *testing.T) {
	cfg := config.Default()
	cfg.HomeAssistant.Discovery = true
	cfg.Zones = []config.ZoneConfig{{ID: 1, Name: "Back Door", DeviceClass: "door"}}

	p := &fakePanel{
		partitions: devices.NewPartitions(1, nil),
		zones:      devices.NewZones(3, nil),
		outputs:    devices.NewOutputs(2, nil),
	}
	for _, z := range p.zones.All() {
		z.SetTechno("W")
	}
	z3, _ := p.zones.ByID(3)
	z3.SetTechno("N")
	p.zones.SetReady(true)
	o2, _ := p.outputs.ByID(2)
	o2.SetGroup("4")
	o2.SetLabel("Gate")

	m := &fakeMQTT{topics: mqtt.NewTopics("risco2mqtt"), published: map[string]string{}}
	New(&cfg, m, p, log.Nop()).Publish()

	var topics []string
	for topic := range m.published {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	want := []string{
		"homeassistant/alarm_control_panel/risco2mqtt_0001/partition_1/config",
		"homeassistant/binary_sensor/risco2mqtt_0001/zone_1/config",
		"homeassistant/binary_sensor/risco2mqtt_0001/zone_2/config",
		"homeassistant/switch/risco2mqtt_0001/output_2/config",
	}
	if len(topics) != len(want) {
		t.Fatalf("published %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topic[%d] = %q, want %q", i, topics[i], want[i])
		}
	}

	var zone map[string]interface{}
	if err := json.Unmarshal([]byte(m.published[want[1]]), &zone); err != nil {
		t.Fatal(err)
	}
	if zone["name"] != "Back Door" || zone["device_class"] != "door" ||
		zone["unique_id"] != "risco2mqtt_0001_zone_1_back_door" || zone["state_topic"] != "risco2mqtt/zone/1" {
		t.Errorf("zone config = %v", zone)
	}

	var output map[string]interface{}
	if err := json.Unmarshal([]byte(m.published[want[3]]), &output); err != nil {
		t.Fatal(err)
	}
	if output["command_topic"] != "risco2mqtt/output/2/set" || output["name"] != "Gate" {
		t.Errorf("output config = %v", output)
	}
	device, _ := output["device"].(map[string]interface{})
	if device["sw_version"] != "3.11" || device["model"] != "LightSys" {
		t.Errorf("device = %v", device)
	}
}
