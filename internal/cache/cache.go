package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const cacheFileName = "risco2mqtt_cache.json"

// Data is what a session learned about the panel. Discovered credentials
// let the next start skip the key and access code searches.
type Data struct {
	PanelID    int       `json:"panel_id"`
	Password   string    `json:"password"`
	PanelType  string    `json:"panel_type"`
	Firmware   string    `json:"firmware,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

func SaveCache(dir string, cacheData Data) error {
	cacheData.LastUpdate = time.Now()
	data, err := json.Marshal(cacheData)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	err = os.WriteFile(filepath.Join(dir, cacheFileName), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}

// LoadCache returns nil without error when nothing was cached yet.
func LoadCache(dir string) (*Data, error) {
	data, err := os.ReadFile(filepath.Join(dir, cacheFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var cacheData Data
	err = json.Unmarshal(data, &cacheData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return &cacheData, nil
}

func DeleteCache(dir string) error {
	err := os.Remove(filepath.Join(dir, cacheFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}

	return nil
}

// Dir is the default cache directory.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".cache", "risco2mqtt"), nil
}
