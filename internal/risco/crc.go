package risco

import (
	"fmt"

	"github.com/sigurn/crc16"
)

// The panel uses the reflected 0xA001 table seeded with 0xFFFF and no final
// xor, which is CRC-16/MODBUS.
var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC computes the frame checksum over plaintext bytes.
func CRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// crcString renders the checksum the way it travels on the wire.
func crcString(data []byte) string {
	return fmt.Sprintf("%04X", CRC(data))
}
