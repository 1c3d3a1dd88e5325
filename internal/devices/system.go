package devices

import "strings"

type SystemState struct {
	LowBatteryTrouble bool `json:"low_battery_trouble"`
	ACTrouble         bool `json:"ac_trouble"`
	PhoneLineTrouble  bool `json:"phone_line_trouble"`
	ClockTrouble      bool `json:"clock_trouble"`
	DefaultSwitch     bool `json:"default_switch"`
	MS1ReportTrouble  bool `json:"ms1_report_trouble"`
	MS2ReportTrouble  bool `json:"ms2_report_trouble"`
	MS3ReportTrouble  bool `json:"ms3_report_trouble"`
	BoxTamper         bool `json:"box_tamper"`
	JammingTrouble    bool `json:"jamming_trouble"`
	ProgMode          bool `json:"prog_mode"`
	LearnMode         bool `json:"learn_mode"`
	ThreeMinBypass    bool `json:"three_min_bypass"`
	WalkTest          bool `json:"walk_test"`
	AuxTrouble        bool `json:"aux_trouble"`
	Rs485BusTrouble   bool `json:"rs485_bus_trouble"`
	LsSwitch          bool `json:"ls_switch"`
	BellSwitch        bool `json:"bell_switch"`
	BellTrouble       bool `json:"bell_trouble"`
	BellTamper        bool `json:"bell_tamper"`
	ServiceExpired    bool `json:"service_expired"`
	PaymentExpired    bool `json:"payment_expired"`
	ServiceMode       bool `json:"service_mode"`
	DualPath          bool `json:"dual_path"`
}

// Event names the orchestrator reacts to.
const (
	EventProgModeOn  = "ProgModeOn"
	EventProgModeOff = "ProgModeOff"
)

var systemFlags = []flag[SystemState]{
	{'B', func(s *SystemState) *bool { return &s.LowBatteryTrouble }, "LowBattery", "BatteryOk"},
	{'A', func(s *SystemState) *bool { return &s.ACTrouble }, "ACUnplugged", "ACPlugged"},
	{'P', func(s *SystemState) *bool { return &s.PhoneLineTrouble }, "PhoneLineTrouble", "PhoneLineOk"},
	{'C', func(s *SystemState) *bool { return &s.ClockTrouble }, "ClockTrouble", "ClockOk"},
	{'D', func(s *SystemState) *bool { return &s.DefaultSwitch }, "DefaultSwitchOn", "DefaultSwitchOff"},
	{'1', func(s *SystemState) *bool { return &s.MS1ReportTrouble }, "MS1ReportTrouble", "MS1ReportOk"},
	{'2', func(s *SystemState) *bool { return &s.MS2ReportTrouble }, "MS2ReportTrouble", "MS2ReportOk"},
	{'3', func(s *SystemState) *bool { return &s.MS3ReportTrouble }, "MS3ReportTrouble", "MS3ReportOk"},
	{'X', func(s *SystemState) *bool { return &s.BoxTamper }, "BoxTamperOpen", "BoxTamperClosed"},
	{'J', func(s *SystemState) *bool { return &s.JammingTrouble }, "JammingTrouble", "JammingOk"},
	{'I', func(s *SystemState) *bool { return &s.ProgMode }, EventProgModeOn, EventProgModeOff},
	{'L', func(s *SystemState) *bool { return &s.LearnMode }, "LearnModeOn", "LearnModeOff"},
	{'M', func(s *SystemState) *bool { return &s.ThreeMinBypass }, "ThreeMinBypassOn", "ThreeMinBypassOff"},
	{'W', func(s *SystemState) *bool { return &s.WalkTest }, "WalkTestOn", "WalkTestOff"},
	{'U', func(s *SystemState) *bool { return &s.AuxTrouble }, "AuxTrouble", "AuxOk"},
	{'R', func(s *SystemState) *bool { return &s.Rs485BusTrouble }, "Rs485BusTrouble", "Rs485BusOk"},
	{'S', func(s *SystemState) *bool { return &s.LsSwitch }, "LsSwitchOn", "LsSwitchOff"},
	{'F', func(s *SystemState) *bool { return &s.BellSwitch }, "BellSwitchOn", "BellSwitchOff"},
	{'E', func(s *SystemState) *bool { return &s.BellTrouble }, "BellTrouble", "BellOk"},
	{'Y', func(s *SystemState) *bool { return &s.BellTamper }, "BellTamper", "BellTamperOk"},
	{'V', func(s *SystemState) *bool { return &s.ServiceExpired }, "ServiceExpired", "ServiceOk"},
	{'T', func(s *SystemState) *bool { return &s.PaymentExpired }, "PaymentExpired", "PaymentOk"},
	{'Z', func(s *SystemState) *bool { return &s.ServiceMode }, "ServiceModeOn", "ServiceModeOff"},
	{'Q', func(s *SystemState) *bool { return &s.DualPath }, "DualPathOn", "DualPathOff"},
}

// System is the panel main board.
type System struct {
	base
	subscribers
	state SystemState
}

func NewSystem() *System {
	s := &System{}
	s.label = "System"
	return s
}

func (s *System) State() SystemState {
	s.base.mu.RLock()
	defer s.base.mu.RUnlock()
	return s.state
}

// StatusProgMode reports whether a raw SSTT value carries the programming
// flag.
func StatusProgMode(status string) bool {
	return strings.IndexByte(status, 'I') >= 0
}

// ProgMode reports whether the last SSTT value carried the programming flag.
func (s *System) ProgMode() bool {
	return s.State().ProgMode
}

// ApplyStatus decodes an SSTT value and returns the events of changed flags.
func (s *System) ApplyStatus(status string) []string {
	s.base.mu.Lock()
	defer s.base.mu.Unlock()
	first := s.record(status)
	return applyFlags(&s.state, systemFlags, status, first)
}

// SetStatus applies status and notifies subscribers.
func (s *System) SetStatus(status string) []Edge {
	var edges []Edge
	for _, name := range s.ApplyStatus(status) {
		edges = append(edges, Edge{Class: ClassSystem, Event: name})
	}
	s.notify(edges)
	return edges
}

type SystemInfo struct {
	Label  string `json:"label"`
	Status string `json:"status"`
	SystemState
}

func (s *System) Info() SystemInfo {
	s.base.mu.RLock()
	defer s.base.mu.RUnlock()
	return SystemInfo{Label: s.label, Status: s.status, SystemState: s.state}
}
