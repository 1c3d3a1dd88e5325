package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daemonp/risco2mqtt/internal/devices"
)

type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: strings.TrimSuffix(prefix, "/")}
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

func (t *Topics) Panel() string {
	return fmt.Sprintf("%s/panel", t.prefix)
}

// State is the retained JSON state of an entity. The system has no id.
func (t *Topics) State(class devices.Class, id int) string {
	if class == devices.ClassSystem {
		return fmt.Sprintf("%s/system", t.prefix)
	}
	return fmt.Sprintf("%s/%s/%d", t.prefix, class, id)
}

func (t *Topics) Event(class devices.Class, id int) string {
	return t.State(class, id) + "/event"
}

func (t *Topics) PartitionCommand(id int) string {
	return fmt.Sprintf("%s/partition/%d/set", t.prefix, id)
}

func (t *Topics) BypassCommand(id int) string {
	return fmt.Sprintf("%s/zone/%d/bypass/set", t.prefix, id)
}

func (t *Topics) OutputCommand(id int) string {
	return fmt.Sprintf("%s/output/%d/set", t.prefix, id)
}

// Commands lists the subscription filters of every command topic.
func (t *Topics) Commands() []string {
	return []string{
		fmt.Sprintf("%s/partition/+/set", t.prefix),
		fmt.Sprintf("%s/zone/+/bypass/set", t.prefix),
		fmt.Sprintf("%s/output/+/set", t.prefix),
	}
}

// ParseCommand maps a command topic back to its entity.
func (t *Topics) ParseCommand(topic string) (devices.Class, int, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return "", 0, false
	}
	parts := strings.Split(rest, "/")
	var class devices.Class
	switch {
	case len(parts) == 3 && parts[0] == "partition" && parts[2] == "set":
		class = devices.ClassPartition
	case len(parts) == 3 && parts[0] == "output" && parts[2] == "set":
		class = devices.ClassOutput
	case len(parts) == 4 && parts[0] == "zone" && parts[2] == "bypass" && parts[3] == "set":
		class = devices.ClassZone
	default:
		return "", 0, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || id < 1 {
		return "", 0, false
	}
	return class, id, true
}
