package risco

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/daemonp/risco2mqtt/internal/log"
)

type Mode int

const (
	ModeDirect Mode = iota
	ModeProxy
)

func (m Mode) String() string {
	if m == ModeProxy {
		return "proxy"
	}
	return "direct"
}

const (
	maxSeq        = 49
	firstPushSeq  = 50
	maxFrameSize  = 64 * 1024
	badCRCLimit   = 10
	badCRCWindow  = 60 * time.Second
	writeTimeout  = 5 * time.Second
	eventQueueLen = 100
	defaultCode   = 4
)

type Options struct {
	Host         string
	Port         int
	Password     string
	PanelID      int
	DiscoverCode bool
	Mode         Mode
	ListenPort   int
	CloudHost    string
	CloudPort    int
}

// Timeouts groups every delay the transport applies.
type Timeouts struct {
	Command    time.Duration
	CryptTest  time.Duration
	Discovery  time.Duration
	Prog       time.Duration
	ProgPoll   time.Duration
	Settle     time.Duration
	Idle       time.Duration
	CloudRetry time.Duration
	CloudReady time.Duration
}

func DefaultTimeouts(mode Mode) Timeouts {
	t := Timeouts{
		Command:    5 * time.Second,
		CryptTest:  500 * time.Millisecond,
		Discovery:  100 * time.Millisecond,
		Prog:       29 * time.Second,
		ProgPoll:   5 * time.Second,
		Settle:     time.Second,
		Idle:       30 * time.Second,
		CloudRetry: 5 * time.Second,
		CloudReady: 45 * time.Second,
	}
	if mode == ModeProxy {
		t.CryptTest = 5 * time.Second
		t.Idle = 120 * time.Second
	}
	return t
}

type reply struct {
	cmd    string
	badCRC bool
}

type pending struct {
	id string
	ch chan reply
}

// Transport owns one panel socket: framing, sequence ids, ACKs, the
// handshake and, in proxy mode, the relay to RiscoCloud.
type Transport struct {
	opts     Options
	timeouts Timeouts
	log      *log.Logger
	codec    *Codec
	crc      *crcGuard
	events   chan Event
	done     chan struct{}
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)

	// cmdMu serializes request/response exchanges, wmu panel socket writes.
	cmdMu sync.Mutex
	wmu   sync.Mutex

	mu          sync.Mutex
	conn        net.Conn
	closed      chan struct{}
	connected   bool
	seq         int
	pending     *pending
	password    string
	inProg      bool
	inCryptTest bool
	inDiscovery bool
	lastPushID  string
	lastPushCmd string
	badFrame    []byte
	watchdogFor chan struct{}

	proxy proxyState
}

func New(opts Options, logger *log.Logger) *Transport {
	var d net.Dialer
	return &Transport{
		opts:     opts,
		timeouts: DefaultTimeouts(opts.Mode),
		log:      logger.With("transport"),
		codec:    NewCodec(opts.PanelID),
		crc:      newCRCGuard(badCRCLimit, badCRCWindow),
		events:   make(chan Event, eventQueueLen),
		done:     make(chan struct{}),
		dial:     d.DialContext,
		seq:      1,
		password: opts.Password,
	}
}

// SetTimeouts replaces the default delays.
func (t *Transport) SetTimeouts(to Timeouts) {
	t.timeouts = to
}

func (t *Transport) Events() <-chan Event {
	return t.events
}

func (t *Transport) Codec() *Codec {
	return t.codec
}

func (t *Transport) Mode() Mode {
	return t.opts.Mode
}

// PanelID returns the id in use, which may differ from the configured one
// after discovery.
func (t *Transport) PanelID() int {
	return t.codec.PanelID()
}

// Password returns the access code in use.
func (t *Transport) Password() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.password
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) InProg() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inProg
}

// SetProgMode records whether the panel is in programming mode.
func (t *Transport) SetProgMode(on bool) {
	t.mu.Lock()
	t.inProg = on
	t.mu.Unlock()
}

// Connect opens the panel socket and runs the handshake. In proxy mode it
// first waits for the panel to connect and for RiscoCloud to be reachable.
func (t *Transport) Connect(ctx context.Context) error {
	if t.opts.Mode == ModeProxy {
		return t.connectProxy(ctx)
	}

	addr := net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))
	t.log.Info("Connecting to panel at %s", addr)
	conn, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to panel: %w", err)
	}

	t.attach(conn)
	go t.serve(conn)
	return t.establish(ctx)
}

func (t *Transport) establish(ctx context.Context) error {
	if err := t.handshake(ctx); err != nil {
		t.log.Error("Panel handshake failed: %v", err)
		t.Disconnect()
		return err
	}
	return nil
}

// attach resets per-connection state for a fresh socket.
func (t *Transport) attach(conn net.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.closed = make(chan struct{})
	t.connected = false
	t.seq = 1
	t.pending = nil
	t.inProg = false
	t.inCryptTest = false
	t.inDiscovery = false
	t.lastPushID, t.lastPushCmd = "", ""
	t.badFrame = nil
	t.mu.Unlock()
	t.crc.Reset()
	t.codec.SetEncrypting(false)
}

func (t *Transport) serve(conn net.Conn) {
	err := t.readLoop(conn, t.handleFrame)
	t.lost(conn, err)
}

func (t *Transport) lost(conn net.Conn, err error) {
	t.mu.Lock()
	current := t.conn == conn
	t.mu.Unlock()
	if !current {
		return
	}
	if errors.Is(err, io.EOF) {
		t.log.Warn("Panel closed the connection")
	} else {
		t.log.Warn("Panel connection lost: %v", err)
	}
	t.teardown(conn, false)
}

func (t *Transport) readLoop(conn net.Conn, handle func([]byte)) error {
	sc := bufio.NewScanner(idleConn{Conn: conn, timeout: t.timeouts.Idle})
	sc.Buffer(make([]byte, 0, 1024), maxFrameSize)
	sc.Split(ScanFrames)
	for sc.Scan() {
		frame := append([]byte(nil), sc.Bytes()...)
		t.log.Wire("rx", frame)
		handle(frame)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

// handleFrame is the local receive path for frames coming from the panel.
func (t *Transport) handleFrame(frame []byte) {
	seq, cmd, ok := t.codec.Decode(frame)
	if !ok {
		t.onBadCRC(frame)
		return
	}

	if seq == "" {
		if IsErrorCode(cmd) && t.complete("", cmd) {
			return
		}
		t.log.Warn("Unexpected panel answer without id: %q", cmd)
		return
	}

	n, err := strconv.Atoi(seq)
	if err != nil {
		t.log.Warn("Malformed sequence id %q", seq)
		return
	}
	if n >= firstPushSeq {
		t.ackPush(seq, cmd)
		return
	}
	if !t.complete(seq, cmd) {
		t.log.Debug("Ignoring answer %s%s with no matching command", seq, cmd)
	}
}

// isPushSeq reports whether seq belongs to a panel initiated push.
func isPushSeq(seq string) bool {
	n, err := strconv.Atoi(seq)
	return err == nil && n >= firstPushSeq
}

// ackPush acknowledges a panel push and emits it.
func (t *Transport) ackPush(seq, cmd string) {
	if err := t.writeFrame(t.codec.Encode("ACK", seq)); err != nil {
		t.log.Warn("Failed to acknowledge push %s: %v", seq, err)
	}
	t.push(seq, cmd)
}

// push emits an unsolicited status, dropping a repeat of the previous one.
func (t *Transport) push(seq, cmd string) {
	t.mu.Lock()
	dup := seq == t.lastPushID && cmd == t.lastPushCmd
	t.lastPushID, t.lastPushCmd = seq, cmd
	t.mu.Unlock()
	if dup {
		t.log.Debug("Dropping repeated push %s%s", seq, cmd)
		return
	}
	t.emit(Event{Type: EventData, Data: cmd})
}

// complete hands an answer to the waiting command. An empty seq matches any
// pending command and leaves the sequence id unchanged.
func (t *Transport) complete(seq, cmd string) bool {
	t.mu.Lock()
	p := t.pending
	if p == nil || (seq != "" && seq != p.id) {
		t.mu.Unlock()
		return false
	}
	if seq != "" {
		t.seq++
		if t.seq > maxSeq {
			t.seq = 1
		}
	}
	t.pending = nil
	t.mu.Unlock()
	p.ch <- reply{cmd: cmd}
	return true
}

func (t *Transport) onBadCRC(frame []byte) {
	t.mu.Lock()
	probing := t.inCryptTest || t.inDiscovery
	if t.inCryptTest {
		t.badFrame = frame
	}
	p := t.pending
	t.pending = nil
	conn := t.conn
	t.mu.Unlock()

	if !probing {
		t.log.Warn("CRC error on frame %X", frame)
		if t.crc.Fail() {
			t.log.Error("Too many CRC errors, dropping the panel connection")
			t.emit(Event{Type: EventBadCRCLimit})
			t.teardown(conn, true)
			return
		}
	}
	if p != nil {
		p.ch <- reply{badCRC: true}
	}
}

func (t *Transport) timeoutFor(prog bool) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.inDiscovery:
		return t.timeouts.Discovery
	case t.inCryptTest:
		return t.timeouts.CryptTest
	case prog || t.inProg:
		return t.timeouts.Prog
	default:
		return t.timeouts.Command
	}
}

// SendCommand sends cmd and waits for the matching answer. Commands other
// than programming ones wait for programming mode to end first.
func (t *Transport) SendCommand(ctx context.Context, cmd string, prog bool) (string, error) {
	if !prog {
		if err := t.waitProgExit(ctx); err != nil {
			return "", err
		}
	}
	t.cmdMu.Lock()
	defer t.cmdMu.Unlock()
	return t.exchange(ctx, cmd, prog, true)
}

func (t *Transport) waitProgExit(ctx context.Context) error {
	for t.InProg() {
		t.log.Debug("Panel in programming mode, command postponed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrNotConnected
		case <-time.After(t.timeouts.ProgPoll):
		}
	}
	return nil
}

// exchange performs one request/response cycle. Callers hold cmdMu.
func (t *Transport) exchange(ctx context.Context, cmd string, prog, resend bool) (string, error) {
	timeout := t.timeoutFor(prog)

	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return "", ErrNotConnected
	}
	p := &pending{id: fmt.Sprintf("%02d", t.seq), ch: make(chan reply, 1)}
	t.pending = p
	closed := t.closed
	t.mu.Unlock()

	t.log.Debug("Sending command %s%s", p.id, cmd)
	if err := t.writeFrame(t.codec.Encode(cmd, p.id)); err != nil {
		t.clearPending(p)
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-p.ch:
		if r.badCRC {
			if resend {
				t.log.Debug("Resending %s after CRC error", cmd)
				return t.exchange(ctx, cmd, prog, false)
			}
			return "", ErrBadCRC
		}
		t.log.Debug("Command %s%s answered %q", p.id, cmd, r.cmd)
		return r.cmd, nil
	case <-timer.C:
		t.clearPending(p)
		t.log.Warn("Command %s timed out after %s", cmd, timeout)
		return "", ErrTimeout
	case <-ctx.Done():
		t.clearPending(p)
		return "", ctx.Err()
	case <-closed:
		return "", ErrNotConnected
	}
}

func (t *Transport) clearPending(p *pending) {
	t.mu.Lock()
	if t.pending == p {
		t.pending = nil
	}
	t.mu.Unlock()
}

func (t *Transport) writeFrame(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	t.log.Wire("tx", frame)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Disconnect sends DCN, closes the socket and emits EventDisconnected. It is
// a no-op when already disconnected.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	t.teardown(conn, true)
}

// Close disconnects and releases the proxy listener. The transport cannot be
// reused afterwards.
func (t *Transport) Close() {
	t.Disconnect()
	t.closeListener()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *Transport) teardown(conn net.Conn, sayGoodbye bool) {
	t.mu.Lock()
	if conn == nil || t.conn != conn {
		t.mu.Unlock()
		return
	}
	seq := fmt.Sprintf("%02d", t.seq)
	t.conn = nil
	t.connected = false
	t.pending = nil
	t.inProg = false
	t.inCryptTest = false
	t.inDiscovery = false
	close(t.closed)
	t.mu.Unlock()

	if sayGoodbye {
		t.wmu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := conn.Write(t.codec.Encode("DCN", seq)); err != nil {
			t.log.Debug("DCN not sent: %v", err)
		}
		t.wmu.Unlock()
	}
	conn.Close()
	t.closeCloud()
	t.codec.SetEncrypting(false)

	t.log.Info("Disconnected from panel")
	t.emit(Event{Type: EventDisconnected})
}

func (t *Transport) emit(e Event) {
	select {
	case t.events <- e:
	case <-t.done:
	}
}

// StartWatchdog sends CLOCK every interval until the connection drops,
// skipping ticks during programming mode or a remote session.
func (t *Transport) StartWatchdog(interval time.Duration) {
	t.mu.Lock()
	closed := t.closed
	if t.conn == nil || t.watchdogFor == closed || interval <= 0 {
		t.mu.Unlock()
		return
	}
	t.watchdogFor = closed
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-closed:
				return
			case <-ticker.C:
				if t.InProg() || t.InRemote() {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), interval+t.timeouts.Command)
				if _, err := t.SendCommand(ctx, "CLOCK", false); err != nil {
					t.log.Warn("Watchdog CLOCK failed: %v", err)
				}
				cancel()
			}
		}
	}()
}

// GetResult sends cmd and returns the value after '='.
func (t *Transport) GetResult(ctx context.Context, cmd string) (string, error) {
	resp, err := t.SendCommand(ctx, cmd, false)
	if err != nil {
		return "", err
	}
	return ParseResult(resp)
}

// ParseResult extracts the value of a query answer such as "ZLBL1=Door".
// Only spaces are trimmed: empty TAB separated fields keep their position.
// Error codes come back as *PanelError.
func ParseResult(resp string) (string, error) {
	if IsErrorCode(resp) {
		return "", &PanelError{Code: strings.TrimSpace(resp)}
	}
	if i := strings.IndexByte(resp, '='); i >= 0 {
		resp = resp[i+1:]
	}
	return strings.Trim(resp, " "), nil
}

func (t *Transport) GetIntResult(ctx context.Context, cmd string) (int, error) {
	s, err := t.GetResult(ctx, cmd)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: unexpected answer %q", cmd, s)
	}
	return n, nil
}

// GetAckResult reports whether the panel answered cmd with ACK.
func (t *Transport) GetAckResult(ctx context.Context, cmd string, prog bool) (bool, error) {
	resp, err := t.SendCommand(ctx, cmd, prog)
	if err != nil {
		return false, err
	}
	if resp != "ACK" {
		if IsErrorCode(resp) {
			return false, &PanelError{Code: resp}
		}
		return false, fmt.Errorf("%s: unexpected answer %q", cmd, resp)
	}
	return true, nil
}
