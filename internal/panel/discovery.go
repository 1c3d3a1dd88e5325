package panel

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/risco"
	"github.com/daemonp/risco2mqtt/internal/types"
	"github.com/daemonp/risco2mqtt/internal/util"
)

// blockSize is the number of entities a ranged query covers.
const blockSize = 8

// discover reads labels, configuration and status of every entity. A
// collection whose discovery fails is replaced by an empty one left not
// ready.
func (p *Panel) discover(ctx context.Context, lim limits) {
	p.log.Info("Discovering panel devices")

	if err := p.discoverSystem(ctx); err != nil {
		p.log.Error("System discovery failed: %v", err)
	}

	zones := p.Zones()
	if err := p.discoverZones(ctx, zones); err != nil {
		p.log.Error("Zone discovery failed: %v", err)
		zones = devices.NewZones(lim.zones, p.transport)
		zones.Subscribe(p.forward)
	} else {
		zones.SetReady(true)
	}

	outputs := p.Outputs()
	if err := p.discoverOutputs(ctx, outputs); err != nil {
		p.log.Error("Output discovery failed: %v", err)
		outputs = devices.NewOutputs(lim.outputs, p.transport)
		outputs.Subscribe(p.forward)
	} else {
		outputs.SetReady(true)
	}

	partitions := p.Partitions()
	if err := p.discoverPartitions(ctx, partitions); err != nil {
		p.log.Error("Partition discovery failed: %v", err)
		partitions = devices.NewPartitions(lim.partitions, p.transport)
		partitions.Subscribe(p.forward)
	} else {
		partitions.SetReady(true)
	}

	p.mu.Lock()
	p.zones = zones
	p.outputs = outputs
	p.partitions = partitions
	p.mu.Unlock()
	p.log.Info("Discovered %d zones, %d outputs, %d partitions", zones.Len(), outputs.Len(), partitions.Len())
}

func (p *Panel) discoverSystem(ctx context.Context) error {
	system := p.System()
	label, err := p.query(ctx, "SYSLBL?")
	if err != nil {
		return err
	}
	system.SetLabel(util.Normalize(label))
	status, err := p.query(ctx, "SSTT?")
	if err != nil {
		return err
	}
	system.SetStatus(status)
	return nil
}

func (p *Panel) discoverZones(ctx context.Context, zones *devices.List[*devices.Zone]) error {
	return eachBlock(zones.Len(), func(min, max int) error {
		r := fmt.Sprintf("%d:%d", min, max)
		zoneTypes, err := p.queryRange(ctx, "ZTYPE*"+r+"?", true)
		if err != nil {
			return err
		}
		parts, err := p.queryRange(ctx, "ZPART&*"+r+"?", true)
		if err != nil {
			return err
		}
		groups, err := p.queryRange(ctx, "ZAREA&*"+r+"?", true)
		if err != nil {
			return err
		}
		labels, err := p.queryRange(ctx, "ZLBL*"+r+"?", false)
		if err != nil {
			return err
		}
		statuses, err := p.queryRange(ctx, "ZSTT*"+r+"?", true)
		if err != nil {
			return err
		}

		for id := min; id <= max; id++ {
			z, _ := zones.ByID(id)
			i := id - min
			if n, err := strconv.Atoi(field(zoneTypes, i)); err == nil {
				z.SetType(types.ZoneType(n))
			}
			z.SetPartitions(field(parts, i))
			z.SetGroups(field(groups, i))
			if name := p.config.ZoneName(id); name != "" {
				z.SetLabel(name)
			} else {
				z.SetLabel(field(labels, i))
			}
			z.SetTechno(p.zoneTechno(ctx, id))
			if _, err := zones.SetStatus(id, field(statuses, i)); err != nil {
				return err
			}
		}
		return nil
	})
}

// zoneTechno reads the link technology of one zone. Panels answering with an
// error code only know wired zones.
func (p *Panel) zoneTechno(ctx context.Context, id int) string {
	resp, err := p.transport.SendCommand(ctx, fmt.Sprintf("ZLNKTYP%d?", id), false)
	if err != nil {
		return ""
	}
	v, err := risco.ParseResult(resp)
	if err != nil {
		return "E"
	}
	return v
}

func (p *Panel) discoverOutputs(ctx context.Context, outputs *devices.List[*devices.Output]) error {
	return eachBlock(outputs.Len(), func(min, max int) error {
		r := fmt.Sprintf("%d:%d", min, max)
		outputTypes, err := p.queryRange(ctx, "OTYPE*"+r+"?", true)
		if err != nil {
			return err
		}
		labels, err := p.queryRange(ctx, "OLBL*"+r+"?", false)
		if err != nil {
			return err
		}
		statuses, err := p.queryRange(ctx, "OSTT*"+r+"?", true)
		if err != nil {
			return err
		}
		groups, err := p.queryRange(ctx, "OGROP*"+r+"?", true)
		if err != nil {
			return err
		}

		for id := min; id <= max; id++ {
			o, _ := outputs.ByID(id)
			i := id - min
			o.SetLabel(field(labels, i))
			if n, err := strconv.Atoi(field(outputTypes, i)); err == nil {
				o.SetType(n)
			}
			if o.Pulsed() {
				delay, err := p.queryInt(ctx, fmt.Sprintf("OPULSE%d?", id))
				if err != nil {
					return err
				}
				o.SetPulseDelay(delay)
			}
			o.SetGroup(field(groups, i))
			if _, err := outputs.SetStatus(id, field(statuses, i)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Panel) discoverPartitions(ctx context.Context, partitions *devices.List[*devices.Partition]) error {
	return eachBlock(partitions.Len(), func(min, max int) error {
		r := fmt.Sprintf("%d:%d", min, max)
		labels, err := p.queryRange(ctx, "PLBL*"+r+"?", false)
		if err != nil {
			return err
		}
		statuses, err := p.queryRange(ctx, "PSTT*"+r+"?", true)
		if err != nil {
			return err
		}
		for id := min; id <= max; id++ {
			part, _ := partitions.ByID(id)
			part.SetLabel(field(labels, id-min))
			if _, err := partitions.SetStatus(id, field(statuses, id-min)); err != nil {
				return err
			}
		}
		return nil
	})
}

// queryRange sends a ranged query and splits its TAB separated answer.
func (p *Panel) queryRange(ctx context.Context, cmd string, compact bool) ([]string, error) {
	v, err := p.query(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSuffix(cmd, "?"), err)
	}
	return util.SplitValues(v, compact), nil
}

// eachBlock calls fn for consecutive id ranges of at most blockSize.
func eachBlock(n int, fn func(min, max int) error) error {
	for min := 1; min <= n; min += blockSize {
		max := min + blockSize - 1
		if max > n {
			max = n
		}
		if err := fn(min, max); err != nil {
			return err
		}
	}
	return nil
}

func field(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
