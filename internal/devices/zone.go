package devices

import (
	"context"
	"fmt"
	"strconv"

	"github.com/daemonp/risco2mqtt/internal/types"
)

type ZoneState struct {
	Open        bool `json:"open"`
	Armed       bool `json:"armed"`
	Alarm       bool `json:"alarm"`
	Tamper      bool `json:"tamper"`
	Trouble     bool `json:"trouble"`
	Lost        bool `json:"lost"`
	LowBattery  bool `json:"low_battery"`
	Bypass      bool `json:"bypass"`
	CommTrouble bool `json:"comm_trouble"`
	SoakTest    bool `json:"soak_test"`
	Hours24     bool `json:"hours24"`
}

var zoneFlags = []flag[ZoneState]{
	{'O', func(s *ZoneState) *bool { return &s.Open }, "Open", "Closed"},
	{'A', func(s *ZoneState) *bool { return &s.Armed }, "Armed", "Disarmed"},
	{'a', func(s *ZoneState) *bool { return &s.Alarm }, "Alarm", "StandBy"},
	{'T', func(s *ZoneState) *bool { return &s.Tamper }, "Tamper", "Hold"},
	{'R', func(s *ZoneState) *bool { return &s.Trouble }, "Trouble", "Sureness"},
	{'L', func(s *ZoneState) *bool { return &s.Lost }, "Lost", "Located"},
	{'B', func(s *ZoneState) *bool { return &s.LowBattery }, "LowBattery", "BatteryOk"},
	{'Y', func(s *ZoneState) *bool { return &s.Bypass }, "Bypassed", "UnBypassed"},
	{'C', func(s *ZoneState) *bool { return &s.CommTrouble }, "CommTrouble", "CommOk"},
	{'S', func(s *ZoneState) *bool { return &s.SoakTest }, "SoakTest", "ExitSoakTest"},
	{'H', func(s *ZoneState) *bool { return &s.Hours24 }, "24HoursZone", "NormalZone"},
}

var technologies = map[byte]string{
	'E': "Wired Zone",
	'B': "Bus Zone",
	'I': "Bus Zone",
	'W': "Wireless Zone",
	'N': "None",
}

type Zone struct {
	base
	state      ZoneState
	zoneType   types.ZoneType
	techno     byte
	partitions []int
	groups     []string
}

func NewZone(id int, cmd Commander) *Zone {
	z := &Zone{techno: 'N', partitions: []int{1}}
	z.id = id
	z.cmd = cmd
	z.label = fmt.Sprintf("Zone %d", id)
	return z
}

func NewZones(n int, cmd Commander) *List[*Zone] {
	return newList(ClassZone, n, func(id int) *Zone { return NewZone(id, cmd) })
}

func (z *Zone) State() ZoneState {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.state
}

// ApplyStatus decodes a ZSTT value and returns the events of changed flags.
func (z *Zone) ApplyStatus(status string) []string {
	z.mu.Lock()
	defer z.mu.Unlock()
	first := z.record(status)
	return applyFlags(&z.state, zoneFlags, status, first)
}

func (z *Zone) Type() types.ZoneType {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.zoneType
}

func (z *Zone) SetType(t types.ZoneType) {
	z.mu.Lock()
	z.zoneType = t
	z.mu.Unlock()
}

// SetTechno records the link technology letter from ZLNKTYP. Unknown letters
// are ignored.
func (z *Zone) SetTechno(letter string) {
	if len(letter) == 0 {
		return
	}
	if _, ok := technologies[letter[0]]; !ok {
		return
	}
	z.mu.Lock()
	z.techno = letter[0]
	z.mu.Unlock()
}

// Techno describes the zone link technology.
func (z *Zone) Techno() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return technologies[z.techno]
}

// NotUsed reports a zone with no link technology.
func (z *Zone) NotUsed() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.techno == 'N'
}

// SetPartitions decodes the ZPART hex mask. A single digit covers partitions
// 1 to 4; longer masks carry four partitions per digit.
func (z *Zone) SetPartitions(mask string) {
	var parts []int
	for i := 0; i < len(mask); i++ {
		v, err := strconv.ParseUint(mask[i:i+1], 16, 8)
		if err != nil {
			continue
		}
		for bit := 0; bit < 4; bit++ {
			if v&(1<<bit) != 0 {
				parts = append(parts, i*4+bit+1)
			}
		}
	}
	z.mu.Lock()
	z.partitions = parts
	z.mu.Unlock()
}

func (z *Zone) Partitions() []int {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return append([]int(nil), z.partitions...)
}

// SetGroups decodes the ZAREA hex mask into group letters A to D.
func (z *Zone) SetGroups(mask string) {
	v, err := strconv.ParseUint(mask, 16, 8)
	var groups []string
	if err == nil {
		for bit, name := range []string{"A", "B", "C", "D"} {
			if v&(1<<bit) != 0 {
				groups = append(groups, name)
			}
		}
	}
	z.mu.Lock()
	z.groups = groups
	z.mu.Unlock()
}

func (z *Zone) Groups() []string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return append([]string(nil), z.groups...)
}

// ToggleBypass flips the zone bypass.
func (z *Zone) ToggleBypass(ctx context.Context) (bool, error) {
	return z.ack(ctx, fmt.Sprintf("ZBYPAS=%d", z.id))
}

type ZoneInfo struct {
	ID         int      `json:"id"`
	Label      string   `json:"label"`
	Status     string   `json:"status"`
	Type       string   `json:"type"`
	Techno     string   `json:"techno"`
	Partitions []int    `json:"partitions"`
	Groups     []string `json:"groups"`
	ZoneState
}

func (z *Zone) Info() ZoneInfo {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return ZoneInfo{
		ID:         z.id,
		Label:      z.label,
		Status:     z.status,
		Type:       z.zoneType.String(),
		Techno:     technologies[z.techno],
		Partitions: append([]int(nil), z.partitions...),
		Groups:     append([]string(nil), z.groups...),
		ZoneState:  z.state,
	}
}
