package mqtt

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/panel"
	"github.com/daemonp/risco2mqtt/internal/types"
)

// MQTTClient is what integrations built on the bridge publish through.
type MQTTClient interface {
	GetPrefix() string
	Topics() *Topics
	Publish(topic string, payload interface{}, retain bool)
}

// Panel is the panel surface the bridge exposes over MQTT.
type Panel interface {
	Info() panel.Info
	IsConnected() bool
	System() *devices.System
	Partitions() *devices.List[*devices.Partition]
	Zones() *devices.List[*devices.Zone]
	Outputs() *devices.List[*devices.Output]
	ArmPartition(ctx context.Context, id int, armType types.ArmType) bool
	DisarmPartition(ctx context.Context, id int) bool
	ToggleBypass(ctx context.Context, id int) bool
	ToggleOutput(ctx context.Context, id int) bool
}

// client is the part of the paho client the bridge uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}
