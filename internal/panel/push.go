package panel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/risco"
)

// statusList is the part of a device collection a status push updates.
type statusList interface {
	SetStatus(id int, status string) ([]devices.Edge, error)
}

// handlePush dispatches an unsolicited panel message by its prefix.
func (p *Panel) handlePush(data string) {
	p.log.Debug("Received from panel: %s", data)
	switch {
	case strings.Contains(data, "ACK"):
	case strings.HasPrefix(data, "N"), strings.HasPrefix(data, "B"):
		if desc, ok := risco.ErrorCodes[data]; ok {
			p.log.Warn("Panel reported error %s: %s", data, desc)
		} else {
			p.log.Warn("Unrecognized panel message: %s", data)
		}
	case strings.HasPrefix(data, "OSTT"):
		if outputs := p.Outputs(); outputs != nil {
			p.applyPush(outputs, "OSTT", data)
		}
	case strings.HasPrefix(data, "PSTT"):
		if partitions := p.Partitions(); partitions != nil {
			p.applyPush(partitions, "PSTT", data)
		}
	case strings.HasPrefix(data, "SSTT"):
		p.handleSystemStatus(data)
	case strings.HasPrefix(data, "ZSTT"):
		if zones := p.Zones(); zones != nil {
			p.applyPush(zones, "ZSTT", data)
		}
	case strings.HasPrefix(data, "CLOCK"):
		p.log.Debug("Clock data: %s", data)
	case strings.Contains(data, "STT"):
		p.log.Debug("Hardware status data: %s", data)
	default:
		p.log.Warn("Unrecognized panel message: %s", data)
	}
}

func (p *Panel) applyPush(list statusList, prefix, data string) {
	id, status, err := parsePush(prefix, data)
	if err != nil {
		p.log.Warn("%v", err)
		return
	}
	if _, err := list.SetStatus(id, status); err != nil {
		p.log.Warn("Status push %q ignored: %v", data, err)
	}
}

func (p *Panel) handleSystemStatus(data string) {
	_, status, err := parsePush("SSTT", data)
	if err != nil {
		p.log.Warn("%v", err)
		return
	}
	ownSession := p.transport.InProg()
	if system := p.System(); system != nil {
		for _, e := range system.SetStatus(status) {
			if e.Event == devices.EventProgModeOn && !ownSession {
				p.log.Error("Panel entered programming mode, configuration may have changed: restart to rediscover devices")
				p.markStale()
			}
		}
	}
	// No system entity exists yet while the first session reconciles
	// settings.
	if ownSession && !devices.StatusProgMode(status) {
		p.log.Debug("Panel left programming mode")
		p.transport.SetProgMode(false)
	}
}

func (p *Panel) markStale() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.system != nil {
		p.system.MarkStale()
	}
	if p.partitions != nil {
		p.partitions.MarkStale()
	}
	if p.zones != nil {
		p.zones.MarkStale()
	}
	if p.outputs != nil {
		p.outputs.MarkStale()
	}
}

// parsePush splits "ZSTT12=O---" into 12 and "O---". The id is absent for
// system pushes.
func parsePush(prefix, data string) (int, string, error) {
	eq := strings.IndexByte(data, '=')
	if eq < len(prefix) {
		return 0, "", fmt.Errorf("malformed status push %q", data)
	}
	status := data[eq+1:]
	idPart := strings.TrimSpace(data[len(prefix):eq])
	if idPart == "" {
		return 0, status, nil
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, "", fmt.Errorf("malformed status push %q", data)
	}
	return id, status, nil
}
