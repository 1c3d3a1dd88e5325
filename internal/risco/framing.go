package risco

import (
	"net"
	"time"
)

// ScanFrames is a bufio.SplitFunc that yields one wire frame per token,
// from a start marker up to the first unescaped end marker. Bytes outside a
// frame are dropped.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := -1
	for i := 0; i < len(data); i++ {
		if data[i] == stx {
			start = i
			break
		}
	}
	if start < 0 {
		return len(data), nil, nil
	}
	for i := start + 1; i < len(data); i++ {
		switch data[i] {
		case dle:
			i++
		case stx:
			// unescaped start inside a frame: resync on it
			start = i
		case etx:
			return i + 1, data[start : i+1], nil
		}
	}
	if atEOF {
		return len(data), nil, nil
	}
	return start, nil, nil
}

// idleConn fails a read that sees no traffic for longer than timeout.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c idleConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}
