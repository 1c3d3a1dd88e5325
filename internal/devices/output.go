package devices

import (
	"context"
	"fmt"
)

type OutputState struct {
	Active bool `json:"active"`
}

// A pulsed output reports a pulse rather than a latched state change.
var (
	pulseFlags = []flag[OutputState]{
		{'a', func(s *OutputState) *bool { return &s.Active }, "Pulsed", "PulseEnded"},
	}
	latchFlags = []flag[OutputState]{
		{'a', func(s *OutputState) *bool { return &s.Active }, "Actived", "Deactived"},
	}
)

// userUsableGroup is the OGROP value of outputs the user may drive.
const userUsableGroup = "4"

type Output struct {
	base
	state      OutputState
	outputType int
	pulseDelay int
	userUsable bool
}

func NewOutput(id int, cmd Commander) *Output {
	o := &Output{}
	o.id = id
	o.cmd = cmd
	o.label = fmt.Sprintf("Output %d", id)
	return o
}

func NewOutputs(n int, cmd Commander) *List[*Output] {
	return newList(ClassOutput, n, func(id int) *Output { return NewOutput(id, cmd) })
}

func (o *Output) State() OutputState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// ApplyStatus decodes an OSTT value. Pulsed and latched outputs read the same
// flag but report different events.
func (o *Output) ApplyStatus(status string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	first := o.record(status)
	table := latchFlags
	if o.outputType%2 == 0 {
		table = pulseFlags
	}
	return applyFlags(&o.state, table, status, first)
}

// SetType records the OTYPE value: 0 pulse NC, 1 latch NC, 2 pulse NO,
// 3 latch NO.
func (o *Output) SetType(t int) {
	o.mu.Lock()
	o.outputType = t
	o.mu.Unlock()
}

func (o *Output) Pulsed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.outputType%2 == 0
}

func (o *Output) TypeName() string {
	if o.Pulsed() {
		return "Pulse"
	}
	return "Latch"
}

// SetPulseDelay records the pulse length in seconds.
func (o *Output) SetPulseDelay(seconds int) {
	o.mu.Lock()
	o.pulseDelay = seconds
	o.mu.Unlock()
}

func (o *Output) PulseDelay() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pulseDelay
}

// SetGroup records the OGROP value.
func (o *Output) SetGroup(group string) {
	o.mu.Lock()
	o.userUsable = group == userUsableGroup
	o.mu.Unlock()
}

func (o *Output) UserUsable() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.userUsable
}

// Toggle activates a pulsed output or flips a latched one.
func (o *Output) Toggle(ctx context.Context) (bool, error) {
	return o.ack(ctx, fmt.Sprintf("ACTUO%d", o.id))
}

type OutputInfo struct {
	ID         int    `json:"id"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	Type       string `json:"type"`
	PulseDelay int    `json:"pulse_delay,omitempty"`
	UserUsable bool   `json:"user_usable"`
	OutputState
}

func (o *Output) Info() OutputInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()
	typ := "Latch"
	if o.outputType%2 == 0 {
		typ = "Pulse"
	}
	return OutputInfo{
		ID:          o.id,
		Label:       o.label,
		Status:      o.status,
		Type:        typ,
		PulseDelay:  o.pulseDelay,
		UserUsable:  o.userUsable,
		OutputState: o.state,
	}
}
