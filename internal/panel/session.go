package panel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/risco"
	"github.com/daemonp/risco2mqtt/internal/types"
)

var ErrUnsupportedPanel = errors.New("panel: unsupported panel type")

// limits are the per-model capacities.
type limits struct {
	zones      int
	partitions int
	outputs    int
}

// initSession identifies the panel, reconciles its settings, rebuilds the
// collections and announces readiness. Any failure ends the session.
func (p *Panel) initSession() {
	p.mu.RLock()
	ctx := p.ctx
	p.mu.RUnlock()

	if err := p.loadInitialData(ctx); err != nil {
		p.log.Error("Failed to initialize panel session: %v", err)
		p.transport.Disconnect()
		return
	}
	p.transport.StartWatchdog(p.config.Risco.Watchdog())
	p.log.Info("Panel ready")
	p.emit(Event{Type: EventReady})
}

func (p *Panel) loadInitialData(ctx context.Context) error {
	panelType, err := p.identify(ctx)
	if err != nil {
		return err
	}
	if want := types.ParsePanelType(p.config.Risco.PanelType); want != types.PanelTypeUnknown && want != panelType {
		p.log.Warn("Configured panel type %s does not match detected %s", want, panelType)
	}

	firmware := p.Info().Firmware
	if panelType.FirmwareDependent() {
		firmware = p.firmware(ctx, firmware)
	}

	lim, err := panelLimits(panelType, firmware)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.info = Info{
		PanelID:       p.transport.PanelID(),
		Type:          panelType.String(),
		Model:         panelType.Model(),
		Firmware:      firmware,
		MaxZones:      lim.zones,
		MaxPartitions: lim.partitions,
		MaxOutputs:    lim.outputs,
	}
	p.mu.Unlock()
	p.log.Info("Panel %s (%s) firmware %q: %d zones, %d partitions, %d outputs",
		panelType.Model(), panelType, firmware, lim.zones, lim.partitions, lim.outputs)

	if cmds := p.reconcile(ctx); len(cmds) > 0 {
		p.log.Info("Updating panel settings: %s", strings.Join(cmds, ", "))
		if err := p.transport.ModifyPanelConfig(ctx, cmds); err != nil {
			p.log.Error("Failed to update panel settings: %v", err)
		}
		p.waitProgExit(ctx)
	}

	p.buildCollections(lim)
	if p.config.Risco.AutoDiscover {
		p.discover(ctx, lim)
	}
	return nil
}

// identify queries PNLCNF until the panel answers, at most
// identify_attempts times.
func (p *Panel) identify(ctx context.Context) (types.PanelType, error) {
	attempts := p.config.Risco.IdentifyAttempts
	for i := 1; i <= attempts; i++ {
		v, err := p.query(ctx, "PNLCNF")
		if err == nil && v != "" {
			t := types.ParsePanelType(v)
			if t == types.PanelTypeUnknown {
				return t, fmt.Errorf("%w: %q", ErrUnsupportedPanel, v)
			}
			return t, nil
		}
		if ctx.Err() != nil {
			return types.PanelTypeUnknown, ctx.Err()
		}
		p.log.Warn("Panel identification attempt %d/%d failed: %v", i, attempts, err)
	}
	return types.PanelTypeUnknown, fmt.Errorf("panel did not identify itself after %d attempts", attempts)
}

// firmware returns the version part of FSVER?, or prev when unavailable.
func (p *Panel) firmware(ctx context.Context, prev string) string {
	v, err := p.query(ctx, "FSVER?")
	if err != nil {
		p.log.Warn("Failed to read firmware version: %v", err)
		return prev
	}
	if i := strings.IndexByte(v, ' '); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return prev
	}
	return v
}

func panelLimits(t types.PanelType, firmware string) (limits, error) {
	switch t {
	case types.PanelTypeRW132, types.PanelTypeRW232, types.PanelTypeRW332:
		return limits{zones: 36, partitions: 3, outputs: 4}, nil
	case types.PanelTypeRP432:
		if CompareVersion(firmware, "3.0") >= 0 {
			return limits{zones: 50, partitions: 4, outputs: 32}, nil
		}
		return limits{zones: 32, partitions: 4, outputs: 14}, nil
	case types.PanelTypeRP512:
		if CompareVersion(firmware, "1.2.0.7") >= 0 {
			return limits{zones: 128, partitions: 32, outputs: 262}, nil
		}
		return limits{zones: 64, partitions: 32, outputs: 262}, nil
	default:
		return limits{}, fmt.Errorf("%w: %s", ErrUnsupportedPanel, t)
	}
}

// CompareVersion compares dotted versions and returns -1, 0 or 1. Missing
// components count as 0 and non-numeric ones compare as strings.
func CompareVersion(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(as) && as[i] != "" {
			x = as[i]
		}
		if i < len(bs) && bs[i] != "" {
			y = bs[i]
		}
		xi, xerr := strconv.Atoi(x)
		yi, yerr := strconv.Atoi(y)
		switch {
		case xerr == nil && yerr == nil:
			if xi != yi {
				if xi < yi {
					return -1
				}
				return 1
			}
		case x != y:
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// reconcile compares the cloud and clock settings with the configured
// policy and returns the commands needed to align them.
func (p *Panel) reconcile(ctx context.Context) []string {
	r := p.config.Risco
	var cmds []string
	switch {
	case r.DisableRiscoCloud && !r.EnableRiscoCloud:
		if n, err := p.queryInt(ctx, "ELASEN?"); err == nil && n != 0 {
			cmds = append(cmds, "ELASEN=0")
		}
		local := p.localOffset()
		if idx, err := p.queryInt(ctx, "TIMEZONE?"); err == nil {
			if idx < 0 || idx >= len(types.TimeZones) || types.TimeZones[idx] != local {
				if want := types.TimeZoneIndex(local); want >= 0 {
					cmds = append(cmds, fmt.Sprintf("TIMEZONE=%d", want))
				} else {
					p.log.Warn("Local offset %s has no panel timezone", local)
				}
			}
		}
		if v, err := p.query(ctx, "INTP?"); err == nil && v != r.NTPServer {
			cmds = append(cmds, "INTP="+r.NTPServer)
		}
		if v, err := p.query(ctx, "INTPP?"); err == nil && v != r.NTPPort {
			cmds = append(cmds, "INTPP="+r.NTPPort)
		}
		if v, err := p.query(ctx, "INTPPROT?"); err == nil && v != "1" {
			cmds = append(cmds, "INTPPROT=1")
		}
	case r.EnableRiscoCloud && !r.DisableRiscoCloud:
		if n, err := p.queryInt(ctx, "ELASEN?"); err == nil && n == 0 {
			cmds = append(cmds, "ELASEN=1")
		}
	}
	return cmds
}

// localOffset is the GMT offset on January 1st, outside daylight saving.
func (p *Panel) localOffset() string {
	jan := time.Date(time.Now().Year(), time.January, 1, 0, 0, 0, 0, p.location)
	_, offset := jan.Zone()
	return types.FormatOffset(offset)
}

// waitProgExit waits for a system status push to clear programming mode,
// forcing the flag off after progWait.
func (p *Panel) waitProgExit(ctx context.Context) {
	deadline := time.Now().Add(p.progWait)
	for p.transport.InProg() {
		if time.Now().After(deadline) {
			p.log.Warn("Panel still reported in programming mode, resuming anyway")
			p.transport.SetProgMode(false)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-time.After(p.progPoll):
		}
	}
}

func (p *Panel) buildCollections(lim limits) {
	system := devices.NewSystem()
	partitions := devices.NewPartitions(lim.partitions, p.transport)
	zones := devices.NewZones(lim.zones, p.transport)
	outputs := devices.NewOutputs(lim.outputs, p.transport)
	for _, z := range zones.All() {
		if name := p.config.ZoneName(z.ID()); name != "" {
			z.SetLabel(name)
		}
	}

	system.Subscribe(p.forward)
	partitions.Subscribe(p.forward)
	zones.Subscribe(p.forward)
	outputs.Subscribe(p.forward)

	p.mu.Lock()
	p.system = system
	p.partitions = partitions
	p.zones = zones
	p.outputs = outputs
	p.mu.Unlock()
}

func (p *Panel) query(ctx context.Context, cmd string) (string, error) {
	resp, err := p.transport.SendCommand(ctx, cmd, false)
	if err != nil {
		return "", err
	}
	return risco.ParseResult(resp)
}

func (p *Panel) queryInt(ctx context.Context, cmd string) (int, error) {
	v, err := p.query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: unexpected answer %q", cmd, v)
	}
	return n, nil
}
