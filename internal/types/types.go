package types

import (
	"fmt"
	"strings"
)

type PanelType int

const (
	PanelTypeUnknown PanelType = iota
	PanelTypeRW132
	PanelTypeRW232
	PanelTypeRW332
	PanelTypeRP432
	PanelTypeRP512
)

var panelTypeCodes = map[string]PanelType{
	"RW132": PanelTypeRW132,
	"RW232": PanelTypeRW232,
	"RW332": PanelTypeRW332,
	"RP432": PanelTypeRP432,
	"RP512": PanelTypeRP512,
}

// ParsePanelType maps a PNLCNF answer to a panel family.
func ParsePanelType(code string) PanelType {
	return panelTypeCodes[strings.ToUpper(strings.TrimSpace(code))]
}

func (p PanelType) String() string {
	for code, t := range panelTypeCodes {
		if t == p {
			return code
		}
	}
	return "Unknown"
}

// Model returns the commercial name of the panel family.
func (p PanelType) Model() string {
	switch p {
	case PanelTypeRW132:
		return "Agility"
	case PanelTypeRW232:
		return "WiComm"
	case PanelTypeRW332:
		return "WiCommPro"
	case PanelTypeRP432:
		return "LightSys"
	case PanelTypeRP512:
		return "ProsysPlus/GTPlus"
	default:
		return "Unknown"
	}
}

// FirmwareDependent reports whether capacities depend on FSVER?.
func (p PanelType) FirmwareDependent() bool {
	return p == PanelTypeRP432 || p == PanelTypeRP512
}

type ArmType int

const (
	ArmTypeAway ArmType = iota
	ArmTypeStay
)

// Command returns the wire verb for the arm type.
func (a ArmType) Command() string {
	if a == ArmTypeStay {
		return "STAY"
	}
	return "ARM"
}

func (a ArmType) String() string {
	switch a {
	case ArmTypeAway:
		return "Away"
	case ArmTypeStay:
		return "Stay"
	default:
		return fmt.Sprintf("ArmType(%d)", int(a))
	}
}

type ZoneType int

var zoneTypeNames = [...]string{
	"Not Used",
	"Exit/Entry 1",
	"Exit/Entry 2",
	"Exit Open/Entry 1",
	"Entry Follower",
	"Instant",
	"Internal + Exit/Entry 1",
	"Internal + Exit/Entry 2",
	"Internal + Exit Open/Entry 1",
	"Internal + Entry Follower",
	"Internal + Instant",
	"UO Trigger",
	"Day",
	"24 Hour",
	"Fire",
	"Panic",
	"Special",
	"Pulsed Key-Switch",
	"Final Exit",
	"Latched Key-Switch",
	"Entry Follower + Stay",
	"Pulsed Key-Switch Delayed",
	"Latched Key-Switch Delayed",
	"Tamper",
	"Technical",
	"Exit Open/Entry 2",
	"Internal + Exit Open/Entry 2",
	"Water",
	"Gas",
	"CO",
	"Exit Terminator",
	"High Temperature",
	"Low Temperature",
	"Key Box",
	"Keyswitch Arm",
	"Keyswitch Delayed Arm",
}

const (
	ZoneTypeNotUsed ZoneType = 0
	ZoneTypeFire    ZoneType = 14
	ZoneTypePanic   ZoneType = 15
	ZoneTypeTamper  ZoneType = 23
	ZoneTypeWater   ZoneType = 27
	ZoneTypeGas     ZoneType = 28
	ZoneTypeCO      ZoneType = 29
)

func (z ZoneType) String() string {
	if z >= 0 && int(z) < len(zoneTypeNames) {
		return zoneTypeNames[z]
	}
	return fmt.Sprintf("Unknown(%d)", int(z))
}

// TimeZones maps the panel TIMEZONE index to its GMT offset.
var TimeZones = [...]string{
	"-12:00", "-11:00", "-10:00", "-09:00", "-08:00", "-07:00", "-06:00",
	"-05:00", "-04:30", "-04:00", "-03:30", "-03:00", "-02:00", "-01:00",
	"+00:00", "+01:00", "+02:00", "+03:00", "+03:30", "+04:00", "+04:30",
	"+05:00", "+05:30", "+05:45", "+06:00", "+06:30", "+07:00", "+08:00",
	"+09:00", "+09:30", "+10:00", "+11:00", "+12:00", "+13:00",
}

// TimeZoneIndex returns the panel index for a "+HH:MM" offset, or -1.
func TimeZoneIndex(offset string) int {
	for i, tz := range TimeZones {
		if tz == offset {
			return i
		}
	}
	return -1
}

// FormatOffset renders a UTC offset in seconds as the panel's "+HH:MM" form.
func FormatOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	minutes := seconds / 60
	return fmt.Sprintf("%s%02d:%02d", sign, minutes/60, minutes%60)
}
