package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Risco         RiscoConfig         `yaml:"risco"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Zones         []ZoneConfig        `yaml:"zones"`
	Log           string              `yaml:"log"`
	Cache         bool                `yaml:"cache"`
	CacheDir      string              `yaml:"cache_dir"`
}

type RiscoConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Password          string `yaml:"password"`
	PanelID           int    `yaml:"panel_id"`
	DiscoverCode      bool   `yaml:"discover_code"`
	SocketMode        string `yaml:"socket_mode"`
	ListeningPort     int    `yaml:"listening_port"`
	CloudHost         string `yaml:"cloud_host"`
	CloudPort         int    `yaml:"cloud_port"`
	ReconnectDelay    int    `yaml:"reconnect_delay"`
	AutoReconnect     bool   `yaml:"auto_reconnect"`
	DisableRiscoCloud bool   `yaml:"disable_risco_cloud"`
	EnableRiscoCloud  bool   `yaml:"enable_risco_cloud"`
	NTPServer         string `yaml:"ntp_server"`
	NTPPort           string `yaml:"ntp_port"`
	PanelType         string `yaml:"panel_type"`
	AutoDiscover      bool   `yaml:"auto_discover"`
	WatchdogInterval  int    `yaml:"watchdog_interval"`
	IdentifyAttempts  int    `yaml:"identify_attempts"`
}

type MQTTConfig struct {
	ClientID  string `yaml:"client_id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Keepalive int    `yaml:"keepalive"`
	Password  string `yaml:"password"`
	QOS       int    `yaml:"qos"`
	Retain    bool   `yaml:"retain"`
	Username  string `yaml:"username"`
	Prefix    string `yaml:"prefix"`
	Clean     bool   `yaml:"clean"`
}

type HomeAssistantConfig struct {
	Discovery bool   `yaml:"discovery"`
	Prefix    string `yaml:"prefix"`
}

type ZoneConfig struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	DeviceClass string `yaml:"device_class"`
}

const (
	ModeDirect = "direct"
	ModeProxy  = "proxy"
)

// maxWatchdogInterval keeps the keepalive below the 30 s after which a silent
// direct connection is dropped.
const maxWatchdogInterval = 29

// Default returns the configuration used for any key absent from the file.
func Default() Config {
	return Config{
		Risco: RiscoConfig{
			Host:             "192.168.0.100",
			Port:             1000,
			Password:         "5678",
			PanelID:          1,
			DiscoverCode:     true,
			SocketMode:       ModeDirect,
			ListeningPort:    33000,
			CloudHost:        "www.riscocloud.com",
			CloudPort:        33000,
			ReconnectDelay:   10,
			AutoReconnect:    true,
			NTPServer:        "pool.ntp.org",
			NTPPort:          "123",
			AutoDiscover:     true,
			WatchdogInterval: 5,
			IdentifyAttempts: 10,
		},
		MQTT: MQTTConfig{
			ClientID:  "risco2mqtt",
			Host:      "localhost",
			Port:      1883,
			Keepalive: 60,
			Prefix:    "risco2mqtt",
		},
		HomeAssistant: HomeAssistantConfig{
			Prefix: "homeassistant",
		},
		Log: "info",
	}
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	r := c.Risco
	if r.SocketMode != ModeDirect && r.SocketMode != ModeProxy {
		return fmt.Errorf("invalid socket_mode %q: must be %q or %q", r.SocketMode, ModeDirect, ModeProxy)
	}
	if r.PanelID < 0 || r.PanelID > 9999 {
		return fmt.Errorf("invalid panel_id %d: must be within 0..9999", r.PanelID)
	}
	if len(r.Password) == 0 || len(r.Password) > 6 {
		return fmt.Errorf("invalid password: must be 1 to 6 digits")
	}
	for _, c := range r.Password {
		if c < '0' || c > '9' {
			return fmt.Errorf("invalid password: must be 1 to 6 digits")
		}
	}
	if r.Port <= 0 || r.ListeningPort <= 0 || r.CloudPort <= 0 {
		return fmt.Errorf("invalid port configuration")
	}
	if r.WatchdogInterval <= 0 || r.WatchdogInterval > maxWatchdogInterval {
		return fmt.Errorf("invalid watchdog_interval %d: must be within 1..%d", r.WatchdogInterval, maxWatchdogInterval)
	}
	if r.IdentifyAttempts <= 0 {
		return fmt.Errorf("invalid identify_attempts %d", r.IdentifyAttempts)
	}
	return nil
}

func (r RiscoConfig) Reconnect() time.Duration {
	return time.Duration(r.ReconnectDelay) * time.Second
}

func (r RiscoConfig) Watchdog() time.Duration {
	return time.Duration(r.WatchdogInterval) * time.Second
}

// ZoneDeviceClass returns the configured Home Assistant class for a zone, if any.
func (c *Config) ZoneDeviceClass(id int) string {
	for _, z := range c.Zones {
		if z.ID == id {
			return z.DeviceClass
		}
	}
	return ""
}

// ZoneName returns the configured display name override for a zone, if any.
func (c *Config) ZoneName(id int) string {
	for _, z := range c.Zones {
		if z.ID == id {
			return z.Name
		}
	}
	return ""
}
