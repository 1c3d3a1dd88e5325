package devices

import (
	"context"
	"fmt"

	"github.com/daemonp/risco2mqtt/internal/types"
)

type PartitionState struct {
	Alarm         bool `json:"alarm"`
	Duress        bool `json:"duress"`
	FalseCode     bool `json:"false_code"`
	Fire          bool `json:"fire"`
	Panic         bool `json:"panic"`
	Medic         bool `json:"medic"`
	NoActivity    bool `json:"no_activity"`
	Armed         bool `json:"armed"`
	HomeStay      bool `json:"home_stay"`
	Ready         bool `json:"ready"`
	Open          bool `json:"open"`
	Exist         bool `json:"exist"`
	ResetRequired bool `json:"reset_required"`
	GrpAArmed     bool `json:"group_a_armed"`
	GrpBArmed     bool `json:"group_b_armed"`
	GrpCArmed     bool `json:"group_c_armed"`
	GrpDArmed     bool `json:"group_d_armed"`
	Trouble       bool `json:"trouble"`
}

var partitionFlags = []flag[PartitionState]{
	{'a', func(s *PartitionState) *bool { return &s.Alarm }, "Alarm", "StandBy"},
	{'D', func(s *PartitionState) *bool { return &s.Duress }, "Duress", "Free"},
	{'C', func(s *PartitionState) *bool { return &s.FalseCode }, "FalseCode", "CodeOk"},
	{'F', func(s *PartitionState) *bool { return &s.Fire }, "Fire", "NoFire"},
	{'P', func(s *PartitionState) *bool { return &s.Panic }, "Panic", "NoPanic"},
	{'M', func(s *PartitionState) *bool { return &s.Medic }, "Medic", "NoMedic"},
	{'A', func(s *PartitionState) *bool { return &s.Armed }, "Armed", "Disarmed"},
	{'H', func(s *PartitionState) *bool { return &s.HomeStay }, "HomeStay", "HomeDisarmed"},
	{'R', func(s *PartitionState) *bool { return &s.Ready }, "Ready", "NotReady"},
	{'O', func(s *PartitionState) *bool { return &s.Open }, "ZoneOpen", "ZoneClosed"},
	{'E', func(s *PartitionState) *bool { return &s.Exist }, "Exist", "NotExist"},
	{'S', func(s *PartitionState) *bool { return &s.ResetRequired }, "MemoryEvent", "MemoryAck"},
	{'N', func(s *PartitionState) *bool { return &s.NoActivity }, "ActivityAlert", "ActivityOk"},
	{'1', func(s *PartitionState) *bool { return &s.GrpAArmed }, "GrpAArmed", "GrpADisarmed"},
	{'2', func(s *PartitionState) *bool { return &s.GrpBArmed }, "GrpBArmed", "GrpBDisarmed"},
	{'3', func(s *PartitionState) *bool { return &s.GrpCArmed }, "GrpCArmed", "GrpCDisarmed"},
	{'4', func(s *PartitionState) *bool { return &s.GrpDArmed }, "GrpDArmed", "GrpDDisarmed"},
	{'T', func(s *PartitionState) *bool { return &s.Trouble }, "Trouble", "Ok"},
}

type Partition struct {
	base
	state PartitionState
}

func NewPartition(id int, cmd Commander) *Partition {
	p := &Partition{}
	p.id = id
	p.cmd = cmd
	p.label = fmt.Sprintf("Partition %d", id)
	return p
}

func NewPartitions(n int, cmd Commander) *List[*Partition] {
	return newList(ClassPartition, n, func(id int) *Partition { return NewPartition(id, cmd) })
}

func (p *Partition) State() PartitionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// ApplyStatus decodes a PSTT value and returns the events of changed flags.
// The first status applied only initializes the flags.
func (p *Partition) ApplyStatus(status string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	first := p.record(status)
	return applyFlags(&p.state, partitionFlags, status, first)
}

// Arm arms the partition away or stay. A partition already armed that way
// succeeds without a command. Readiness is left to the panel, which answers
// N12 when the partition cannot be armed.
func (p *Partition) Arm(ctx context.Context, armType types.ArmType) (bool, error) {
	s := p.State()
	if (armType == types.ArmTypeAway && s.Armed) || (armType == types.ArmTypeStay && s.HomeStay) {
		return true, nil
	}
	return p.ack(ctx, fmt.Sprintf("%s=%d", armType.Command(), p.id))
}

// Disarm disarms the partition. A partition neither armed nor stay armed
// succeeds without a command.
func (p *Partition) Disarm(ctx context.Context) (bool, error) {
	s := p.State()
	if !s.Armed && !s.HomeStay {
		return true, nil
	}
	return p.ack(ctx, fmt.Sprintf("DISARM=%d", p.id))
}

type PartitionInfo struct {
	ID     int    `json:"id"`
	Label  string `json:"label"`
	Status string `json:"status"`
	PartitionState
}

func (p *Partition) Info() PartitionInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PartitionInfo{ID: p.id, Label: p.label, Status: p.status, PartitionState: p.state}
}
