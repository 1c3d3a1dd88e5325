// Risco2mqtt bridges a Risco alarm panel to MQTT over the panel's LAN
// protocol.
//
// Usage:
//
//	risco2mqtt run --config config.yml
//	risco2mqtt decode --panel-id 1 <hex frame>
//	risco2mqtt keyscan <hex frame>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daemonp/risco2mqtt/internal/cache"
	"github.com/daemonp/risco2mqtt/internal/config"
	"github.com/daemonp/risco2mqtt/internal/homeassistant"
	"github.com/daemonp/risco2mqtt/internal/log"
	"github.com/daemonp/risco2mqtt/internal/mqtt"
	"github.com/daemonp/risco2mqtt/internal/panel"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "risco2mqtt",
	Short: "Risco alarm panel to MQTT bridge",
	Long: `Connects to a Risco panel (Agility, WiComm, LightSys, ProsysPlus, GTPlus)
over its LAN protocol, either directly or as a proxy in front of RiscoCloud,
and mirrors partitions, zones, outputs and system status to MQTT.`,
	SilenceUsage: true,
}

var configFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Example: `  # Run with the configuration in the current directory
  risco2mqtt run

  # Run with an explicit configuration file
  risco2mqtt run --config /etc/risco2mqtt/config.yml`,
	RunE: runBridge,
}

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "config.yml", "Path to configuration file")
	rootCmd.AddCommand(runCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	logger := log.NewLogger(cfg.Log)

	storeDir := cfg.CacheDir
	if cfg.Cache {
		if storeDir == "" {
			if storeDir, err = cache.Dir(); err != nil {
				return err
			}
		}
		applyCache(cfg, storeDir, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := panel.NewPanel(cfg, logger)
	mqttClient := mqtt.NewMQTT(&cfg.MQTT, p, logger)

	var ha *homeassistant.HomeAssistant
	if cfg.HomeAssistant.Discovery {
		ha = homeassistant.New(cfg, mqttClient, p, logger)
	}

	if err := mqttClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	defer mqttClient.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-p.Events():
				mqttClient.HandleEvent(e)
				if e.Type != panel.EventReady {
					continue
				}
				if ha != nil {
					ha.Publish()
				}
				if cfg.Cache {
					saveCache(p, storeDir, logger)
				}
			}
		}
	})

	if err := p.Start(ctx); err != nil {
		p.Close()
		stop()
		g.Wait()
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	p.Close()
	return g.Wait()
}

// applyCache replaces the configured panel id and access code with the ones
// a previous run discovered.
func applyCache(cfg *config.Config, dir string, logger *log.Logger) {
	data, err := cache.LoadCache(dir)
	if err != nil {
		logger.Warn("Failed to load cache: %v", err)
		return
	}
	if data == nil {
		return
	}
	cfg.Risco.PanelID = data.PanelID
	if data.Password != "" {
		cfg.Risco.Password = data.Password
	}
	logger.Info("Loaded panel %s credentials from cache (%s)", data.PanelType, data.LastUpdate.Format("2006-01-02"))
}

func saveCache(p *panel.Panel, dir string, logger *log.Logger) {
	info := p.Info()
	data := cache.Data{
		PanelID:   info.PanelID,
		Password:  p.Password(),
		PanelType: info.Type,
		Firmware:  info.Firmware,
	}
	if err := cache.SaveCache(dir, data); err != nil {
		logger.Warn("Failed to save cache: %v", err)
		return
	}
	logger.Debug("Saved panel credentials to cache")
}
