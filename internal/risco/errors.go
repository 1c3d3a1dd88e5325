package risco

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConnected  = errors.New("risco: not connected")
	ErrTimeout       = errors.New("risco: command timed out")
	ErrBadCRC        = errors.New("risco: bad CRC")
	ErrBadCRCLimit   = errors.New("risco: too many CRC errors")
	ErrBadAccessCode = errors.New("risco: bad access code")
	ErrBadCryptKey   = errors.New("risco: bad panel id")
	ErrHandshake     = errors.New("risco: handshake rejected")
)

// ErrorCodes describes the error answers a panel may give in place of a
// result.
var ErrorCodes = map[string]string{
	"BCK2": "Callback Error",
	"N01":  "Error",
	"N02":  "Unknown Error N02",
	"N03":  "Unknown Error N03",
	"N04":  "CRC Error",
	"N05":  "Invalid parameter",
	"N06":  "Invalid Value",
	"N07":  "System Armed",
	"N08":  "System Alarm",
	"N09":  "Default Jumper",
	"N10":  "System Not In Prog Mode",
	"N11":  "System In Prog Mode",
	"N12":  "System Not Ready to Arm",
	"N13":  "General Error",
	"N14":  "Device Does Not Support This Operation",
	"N15":  "MS Locked",
	"N16":  "System Busy",
	"N17":  "Pin Code In Use",
	"N18":  "System In RF Allocation Mode",
	"N19":  "Device Doesn't Exists",
	"N20":  "TEOL Termination Not Supported",
	"N21":  "Unknown Error N21",
	"N22":  "Unknown Error N22",
	"N23":  "Unknown Error N23",
	"N24":  "System in Remote Upgrade",
	"N25":  "CW Test Failed",
}

// IsErrorCode reports whether s is one of the panel error answers.
func IsErrorCode(s string) bool {
	_, ok := ErrorCodes[strings.TrimSpace(s)]
	return ok
}

// PanelError wraps an error code returned by the panel.
type PanelError struct {
	Code string
}

func (e *PanelError) Error() string {
	if desc, ok := ErrorCodes[e.Code]; ok {
		return fmt.Sprintf("panel error %s: %s", e.Code, desc)
	}
	return fmt.Sprintf("panel error %s", e.Code)
}
