package mqtt

import (
	"fmt"
	"strings"
)

// BrokerURL builds the paho broker address. The host may carry an mqtt://
// or mqtts:// scheme and its own port, which wins over port.
func BrokerURL(host string, port int) string {
	scheme := "tcp"
	switch {
	case strings.HasPrefix(host, "mqtts://"):
		scheme = "ssl"
		host = strings.TrimPrefix(host, "mqtts://")
	case strings.HasPrefix(host, "mqtt://"):
		host = strings.TrimPrefix(host, "mqtt://")
	}
	host = strings.TrimSuffix(host, "/")
	if strings.Contains(host, ":") {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}
