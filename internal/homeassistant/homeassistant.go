package homeassistant

import (
	"encoding/json"
	"fmt"

	"github.com/daemonp/risco2mqtt/internal/config"
	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/log"
	"github.com/daemonp/risco2mqtt/internal/mqtt"
	"github.com/daemonp/risco2mqtt/internal/panel"
	"github.com/daemonp/risco2mqtt/internal/util"
)

const (
	partitionTemplate = "{% if value_json.alarm %}triggered" +
		"{% elif value_json.armed %}armed_away" +
		"{% elif value_json.home_stay %}armed_home" +
		"{% else %}disarmed{% endif %}"
	zoneTemplate   = "{{ 'ON' if value_json.open else 'OFF' }}"
	outputTemplate = "{{ 'ON' if value_json.active else 'OFF' }}"
)

// Panel is what discovery reads from the panel.
type Panel interface {
	Info() panel.Info
	Partitions() *devices.List[*devices.Partition]
	Zones() *devices.List[*devices.Zone]
	Outputs() *devices.List[*devices.Output]
}

type HomeAssistant struct {
	config *config.Config
	mqtt   mqtt.MQTTClient
	panel  Panel
	log    *log.Logger
}

func New(cfg *config.Config, mqttClient mqtt.MQTTClient, p Panel, logger *log.Logger) *HomeAssistant {
	return &HomeAssistant{
		config: cfg,
		mqtt:   mqttClient,
		panel:  p,
		log:    logger.With("homeassistant"),
	}
}

// Publish announces every partition, used zone and user usable output.
func (ha *HomeAssistant) Publish() {
	ha.log.Info("Publishing Home Assistant discovery")
	device := ha.device()

	if parts := ha.panel.Partitions(); parts != nil {
		for _, p := range parts.All() {
			ha.publishPartitionConfig(p, device)
		}
	}
	if zones := ha.panel.Zones(); zones != nil {
		for _, z := range zones.All() {
			if zones.Ready() && z.NotUsed() {
				continue
			}
			ha.publishZoneConfig(z, device)
		}
	}
	if outputs := ha.panel.Outputs(); outputs != nil {
		for _, o := range outputs.All() {
			if !o.UserUsable() {
				continue
			}
			ha.publishOutputConfig(o, device)
		}
	}
}

func (ha *HomeAssistant) device() map[string]interface{} {
	info := ha.panel.Info()
	device := map[string]interface{}{
		"name":         fmt.Sprintf("Risco %s", info.Model),
		"identifiers":  []string{ha.nodeID()},
		"manufacturer": "Risco",
		"model":        info.Model,
	}
	if info.Firmware != "" {
		device["sw_version"] = info.Firmware
	}
	return device
}

func (ha *HomeAssistant) nodeID() string {
	return fmt.Sprintf("%s_%04d", util.Slugify(ha.mqtt.GetPrefix()), ha.panel.Info().PanelID)
}

func (ha *HomeAssistant) publishPartitionConfig(p *devices.Partition, device map[string]interface{}) {
	topics := ha.mqtt.Topics()
	config := map[string]interface{}{
		"name":               p.Label(),
		"unique_id":          ha.uniqueID(devices.ClassPartition, p.ID(), p.Label()),
		"state_topic":        topics.State(devices.ClassPartition, p.ID()),
		"command_topic":      topics.PartitionCommand(p.ID()),
		"availability_topic": topics.Status(),
		"value_template":     partitionTemplate,
		"code_arm_required":  false,
		"supported_features": []string{"arm_home", "arm_away"},
		"device":             device,
	}
	ha.publishConfig("alarm_control_panel", devices.ClassPartition, p.ID(), config)
}

func (ha *HomeAssistant) publishZoneConfig(z *devices.Zone, device map[string]interface{}) {
	topics := ha.mqtt.Topics()
	label := z.Label()
	if name := ha.config.ZoneName(z.ID()); name != "" {
		label = name
	}
	config := map[string]interface{}{
		"name":                  label,
		"unique_id":             ha.uniqueID(devices.ClassZone, z.ID(), label),
		"state_topic":           topics.State(devices.ClassZone, z.ID()),
		"availability_topic":    topics.Status(),
		"device_class":          getDeviceClass(label, z.Type(), ha.config.ZoneDeviceClass(z.ID())),
		"value_template":        zoneTemplate,
		"json_attributes_topic": topics.State(devices.ClassZone, z.ID()),
		"device":                device,
	}
	ha.publishConfig("binary_sensor", devices.ClassZone, z.ID(), config)
}

func (ha *HomeAssistant) publishOutputConfig(o *devices.Output, device map[string]interface{}) {
	topics := ha.mqtt.Topics()
	config := map[string]interface{}{
		"name":               o.Label(),
		"unique_id":          ha.uniqueID(devices.ClassOutput, o.ID(), o.Label()),
		"state_topic":        topics.State(devices.ClassOutput, o.ID()),
		"command_topic":      topics.OutputCommand(o.ID()),
		"availability_topic": topics.Status(),
		"value_template":     outputTemplate,
		"payload_on":         "TOGGLE",
		"payload_off":        "TOGGLE",
		"state_on":           "ON",
		"state_off":          "OFF",
		"device":             device,
	}
	ha.publishConfig("switch", devices.ClassOutput, o.ID(), config)
}

func (ha *HomeAssistant) uniqueID(class devices.Class, id int, label string) string {
	return fmt.Sprintf("%s_%s_%d_%s", ha.nodeID(), class, id, util.Slugify(label))
}

func (ha *HomeAssistant) publishConfig(component string, class devices.Class, id int, config map[string]interface{}) {
	topic := fmt.Sprintf("%s/%s/%s/%s_%d/config", ha.config.HomeAssistant.Prefix, component, ha.nodeID(), class, id)

	payload, err := json.Marshal(config)
	if err != nil {
		ha.log.Error("Failed to marshal Home Assistant config: %v", err)
		return
	}

	ha.mqtt.Publish(topic, string(payload), true)
}
