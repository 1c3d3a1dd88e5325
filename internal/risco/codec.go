package risco

import (
	"bytes"
	"sync"
)

const (
	stx       = 0x02
	etx       = 0x03
	dle       = 0x10
	cryptFlag = 0x11
	cloudFlag = 0x13
	eop       = 0x17
)

// PseudoBufferLen is the size of the XOR key table.
const PseudoBufferLen = 255

// PseudoBuffer is the XOR key table derived from a panel id.
type PseudoBuffer [PseudoBufferLen]byte

// BuildPseudoBuffer derives the key table for panelID. A zero id yields an
// all-zero table, which leaves payloads untouched.
func BuildPseudoBuffer(panelID int) *PseudoBuffer {
	var buf PseudoBuffer
	if panelID == 0 {
		return &buf
	}
	pid := uint32(panelID)
	for i := range buf {
		var fb uint32
		for _, mask := range [...]uint32{2, 4, 16, 32768} {
			if pid&mask != 0 {
				fb ^= 1
			}
		}
		pid = pid<<1 | fb
		buf[i] = byte(pid)
	}
	return &buf
}

func needsEscape(b byte) bool {
	return b == stx || b == etx || b == dle
}

// EncodeFrame builds a wire frame. A nil table sends the frame in clear.
func EncodeFrame(cmd, seq string, table *PseudoBuffer) []byte {
	body := make([]byte, 0, len(seq)+len(cmd)+1)
	body = append(body, seq...)
	body = append(body, cmd...)
	body = append(body, eop)
	sum := crcString(body)

	out := make([]byte, 0, len(body)+len(sum)+8)
	out = append(out, stx)
	if table != nil {
		out = append(out, cryptFlag)
	}

	pos := 0
	put := func(b byte) {
		if table != nil && pos < PseudoBufferLen {
			b ^= table[pos]
		}
		pos++
		if needsEscape(b) {
			out = append(out, dle)
		}
		out = append(out, b)
	}
	for _, b := range body {
		put(b)
	}
	for i := 0; i < len(sum); i++ {
		put(sum[i])
	}
	return append(out, etx)
}

// DecodeFrame reverses EncodeFrame using table when the frame carries the
// encryption flag. Malformed input yields ok == false.
func DecodeFrame(frame []byte, table *PseudoBuffer) (seq, cmd string, ok bool) {
	if len(frame) < 2 || frame[0] != stx {
		return "", "", false
	}
	encrypted := frame[1] == cryptFlag
	start := 1
	if encrypted {
		start = 2
	}
	end := len(frame) - 1
	if frame[end] != etx || end < start {
		return "", "", false
	}

	plain := make([]byte, 0, end-start)
	pos := 0
	for i := start; i < end; i++ {
		b := frame[i]
		if b == dle && i+1 < end && needsEscape(frame[i+1]) {
			i++
			b = frame[i]
		}
		if encrypted && table != nil && pos < PseudoBufferLen {
			b ^= table[pos]
		}
		pos++
		plain = append(plain, b)
	}

	idx := bytes.IndexByte(plain, eop)
	if idx < 0 {
		return "", string(plain), false
	}
	payload := plain[:idx]
	if len(payload) > 0 && (payload[0] == 'N' || payload[0] == 'B') {
		cmd = string(payload)
	} else if len(payload) >= 2 {
		seq, cmd = string(payload[:2]), string(payload[2:])
	} else {
		return "", string(payload), false
	}
	return seq, cmd, string(plain[idx+1:]) == crcString(plain[:idx+1])
}

// IsEncrypted reports whether a raw frame carries the encryption flag.
func IsEncrypted(frame []byte) bool {
	return len(frame) > 1 && frame[1] == cryptFlag
}

// IsCloudFrame reports whether a raw frame belongs to the cloud channel.
func IsCloudFrame(frame []byte) bool {
	return len(frame) > 1 && frame[1] == cloudFlag
}

// Codec holds the panel id, its key table and whether outgoing frames are
// encrypted. It is safe for concurrent use.
type Codec struct {
	mu      sync.RWMutex
	panelID int
	table   *PseudoBuffer
	encrypt bool
}

func NewCodec(panelID int) *Codec {
	return &Codec{panelID: panelID, table: BuildPseudoBuffer(panelID)}
}

func (c *Codec) PanelID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.panelID
}

// SetPanelID regenerates the key table when the id changes.
func (c *Codec) SetPanelID(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.panelID {
		return
	}
	c.panelID = id
	c.table = BuildPseudoBuffer(id)
}

func (c *Codec) Encrypting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encrypt
}

func (c *Codec) SetEncrypting(on bool) {
	c.mu.Lock()
	c.encrypt = on
	c.mu.Unlock()
}

// Encode frames cmd with the current encryption setting.
func (c *Codec) Encode(cmd, seq string) []byte {
	return c.EncodeWith(cmd, seq, c.Encrypting())
}

// EncodeWith frames cmd, encrypting it only if encrypt is set.
func (c *Codec) EncodeWith(cmd, seq string, encrypt bool) []byte {
	c.mu.RLock()
	table := c.table
	c.mu.RUnlock()
	if !encrypt {
		table = nil
	}
	return EncodeFrame(cmd, seq, table)
}

func (c *Codec) Decode(frame []byte) (seq, cmd string, ok bool) {
	c.mu.RLock()
	table := c.table
	c.mu.RUnlock()
	return DecodeFrame(frame, table)
}

// SearchPanelID walks candidate ids downward from `from` and returns the
// first one whose key table decodes frame with a valid CRC.
func SearchPanelID(frame []byte, from int) (int, bool) {
	return SearchPanelIDFunc(frame, from, nil)
}

// SearchPanelIDFunc is SearchPanelID restricted to decodes accept approves.
// A nil accept approves every valid decode.
func SearchPanelIDFunc(frame []byte, from int, accept func(seq, cmd string) bool) (int, bool) {
	if from > 9999 {
		from = 9999
	}
	for id := from; id >= 0; id-- {
		seq, cmd, ok := DecodeFrame(frame, BuildPseudoBuffer(id))
		if ok && (accept == nil || accept(seq, cmd)) {
			return id, true
		}
	}
	return 0, false
}

// errorAnswer matches the answer a panel gives to a command it could not
// decode: an error code without a sequence id.
func errorAnswer(seq, cmd string) bool {
	return seq == "" && IsErrorCode(cmd)
}
