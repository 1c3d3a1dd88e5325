package risco

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/daemonp/risco2mqtt/internal/log"
)

var testTimeouts = Timeouts{
	Command:    500 * time.Millisecond,
	CryptTest:  300 * time.Millisecond,
	Discovery:  200 * time.Millisecond,
	Prog:       500 * time.Millisecond,
	ProgPoll:   10 * time.Millisecond,
	CloudRetry: 5 * time.Millisecond,
	CloudReady: 20 * time.Millisecond,
}

type received struct {
	seq       string
	cmd       string
	encrypted bool
	ok        bool
}

// fakePanel answers frames on the far end of a pipe. answer returns the raw
// frame to send back, or nil to stay silent.
type fakePanel struct {
	conn   net.Conn
	codec  *Codec
	code   string
	answer func(p *fakePanel, r received) []byte
	out    chan []byte

	mu  sync.Mutex
	got []received
}

func newFakePanel(t *testing.T, panelID int, code string) (*fakePanel, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	p := &fakePanel{
		conn:   server,
		codec:  NewCodec(panelID),
		code:   code,
		answer: standardAnswer,
		out:    make(chan []byte, 64),
	}
	go p.read()
	go p.write()
	t.Cleanup(func() { server.Close() })
	return p, client
}

func (p *fakePanel) read() {
	sc := bufio.NewScanner(p.conn)
	sc.Split(ScanFrames)
	for sc.Scan() {
		frame := append([]byte(nil), sc.Bytes()...)
		seq, cmd, ok := p.codec.Decode(frame)
		r := received{seq: seq, cmd: cmd, encrypted: IsEncrypted(frame), ok: ok}
		p.mu.Lock()
		p.got = append(p.got, r)
		answer := p.answer
		p.mu.Unlock()
		if resp := answer(p, r); resp != nil {
			p.out <- resp
		}
	}
	close(p.out)
}

func (p *fakePanel) write() {
	for frame := range p.out {
		if _, err := p.conn.Write(frame); err != nil {
			return
		}
	}
}

func (p *fakePanel) send(frame []byte) {
	p.out <- frame
}

func (p *fakePanel) setAnswer(fn func(p *fakePanel, r received) []byte) {
	p.mu.Lock()
	p.answer = fn
	p.mu.Unlock()
}

func (p *fakePanel) frame(seq, cmd string, encrypted bool) []byte {
	return p.codec.EncodeWith(cmd, seq, encrypted)
}

func (p *fakePanel) received() []received {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]received(nil), p.got...)
}

func (p *fakePanel) commands() []string {
	var cmds []string
	for _, r := range p.received() {
		cmds = append(cmds, r.cmd)
	}
	return cmds
}

func standardAnswer(p *fakePanel, r received) []byte {
	if !r.ok {
		return p.frame("", "N04", true)
	}
	switch {
	case strings.HasPrefix(r.cmd, "RMT="):
		if r.cmd != "RMT="+p.code {
			return p.frame("", "N05", false)
		}
		return p.frame(r.seq, "ACK", false)
	case r.cmd == "LCL":
		return p.frame(r.seq, "ACK", false)
	case r.cmd == "CUSTLST?":
		return p.frame(r.seq, "CUSTLST=1\t2\t3\t4\t5\t6\t7\t8", r.encrypted)
	case r.cmd == "DCN", r.cmd == "ACK":
		return nil
	default:
		return p.frame(r.seq, "ACK", r.encrypted)
	}
}

func newTestTransport(t *testing.T, opts Options, conn net.Conn) *Transport {
	t.Helper()
	tr := New(opts, log.Nop())
	tr.SetTimeouts(testTimeouts)
	tr.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return conn, nil
	}
	t.Cleanup(tr.Close)
	return tr
}

// attached returns a transport reading conn without running the handshake.
func attached(t *testing.T, conn net.Conn) *Transport {
	t.Helper()
	tr := newTestTransport(t, Options{PanelID: 1, Password: "5678"}, conn)
	tr.attach(conn)
	go tr.serve(conn)
	return tr
}

func waitEvent(t *testing.T, tr *Transport, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-tr.Events():
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectHandshake(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := newTestTransport(t, Options{PanelID: 1, Password: "5678"}, conn)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitEvent(t, tr, EventConnected)
	if !tr.IsConnected() {
		t.Error("IsConnected() = false after handshake")
	}

	want := []received{
		{seq: "01", cmd: "RMT=5678", ok: true},
		{seq: "02", cmd: "LCL", ok: true},
		{seq: "03", cmd: "CUSTLST?", encrypted: true, ok: true},
	}
	got := panel.received()
	if len(got) != len(want) {
		t.Fatalf("panel received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestConnectPadsShortCode(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "0042")
	tr := newTestTransport(t, Options{PanelID: 1, Password: "42"}, conn)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if cmds := panel.commands(); cmds[0] != "RMT=0042" {
		t.Errorf("first command = %q, want RMT=0042", cmds[0])
	}
}

func TestConnectDiscoversPanelID(t *testing.T) {
	_, conn := newFakePanel(t, 4321, "5678")
	tr := newTestTransport(t, Options{PanelID: 1, Password: "5678", DiscoverCode: true}, conn)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitEvent(t, tr, EventBadCryptKey)
	if e := waitEvent(t, tr, EventCryptKeyFound); e.Data != "4321" {
		t.Errorf("CryptKeyFound data = %q, want 4321", e.Data)
	}
	waitEvent(t, tr, EventConnected)
	if tr.PanelID() != 4321 {
		t.Errorf("PanelID() = %d, want 4321", tr.PanelID())
	}
	if n := tr.crc.Count(); n != 0 {
		t.Errorf("CRC failures counted during discovery: %d", n)
	}
}

func TestConnectBadPanelIDWithoutDiscovery(t *testing.T) {
	_, conn := newFakePanel(t, 4321, "5678")
	tr := newTestTransport(t, Options{PanelID: 1, Password: "5678"}, conn)

	if err := tr.Connect(context.Background()); !errors.Is(err, ErrBadCryptKey) {
		t.Fatalf("Connect() error = %v, want ErrBadCryptKey", err)
	}
	waitEvent(t, tr, EventDisconnected)
}

func TestConnectDiscoversAccessCode(t *testing.T) {
	_, conn := newFakePanel(t, 1, "42")
	tr := newTestTransport(t, Options{PanelID: 1, Password: "5678", DiscoverCode: true}, conn)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitEvent(t, tr, EventBadAccessCode)
	if e := waitEvent(t, tr, EventAccessCodeFound); e.Data != "42" {
		t.Errorf("AccessCodeFound data = %q, want 42", e.Data)
	}
	if tr.Password() != "42" {
		t.Errorf("Password() = %q, want 42", tr.Password())
	}
}

func TestConnectBadAccessCode(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "1111")
	tr := newTestTransport(t, Options{PanelID: 1, Password: "5678"}, conn)

	if err := tr.Connect(context.Background()); !errors.Is(err, ErrBadAccessCode) {
		t.Fatalf("Connect() error = %v, want ErrBadAccessCode", err)
	}
	waitEvent(t, tr, EventBadAccessCode)
	waitEvent(t, tr, EventDisconnected)
	waitFor(t, "DCN", func() bool {
		cmds := panel.commands()
		return len(cmds) > 0 && cmds[len(cmds)-1] == "DCN"
	})
}

func TestSequenceWraps(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if _, err := tr.SendCommand(ctx, "CLOCK", false); err != nil {
			t.Fatalf("command %d: %v", i+1, err)
		}
	}

	got := panel.received()
	if got[0].seq != "01" || got[48].seq != "49" || got[49].seq != "01" {
		t.Errorf("sequence ids = %s %s %s, want 01 49 01", got[0].seq, got[48].seq, got[49].seq)
	}
}

func TestPushIsAcknowledged(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	panel.send(panel.frame("55", "ZSTT1=O-------------", false))
	panel.send(panel.frame("55", "ZSTT1=O-------------", false))
	panel.send(panel.frame("56", "PSTT1=-R---", false))

	if e := waitEvent(t, tr, EventData); e.Data != "ZSTT1=O-------------" {
		t.Errorf("first push = %q", e.Data)
	}
	if e := waitEvent(t, tr, EventData); e.Data != "PSTT1=-R---" {
		t.Errorf("second push = %q, want the repeat dropped", e.Data)
	}

	waitFor(t, "three ACKs", func() bool { return len(panel.received()) == 3 })
	for i, want := range []string{"55", "55", "56"} {
		r := panel.received()[i]
		if r.cmd != "ACK" || r.seq != want {
			t.Errorf("reply %d = %s%s, want %sACK", i, r.seq, r.cmd, want)
		}
	}
}

func TestBadCRCResendsOnce(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	var calls int
	panel.setAnswer(func(p *fakePanel, r received) []byte {
		calls++
		frame := p.frame(r.seq, "ZLBL*1:2=Front Door\tHall", false)
		if calls == 1 {
			frame[3] ^= 0x01
		}
		return frame
	})

	resp, err := tr.SendCommand(context.Background(), "ZLBL*1:2?", false)
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if resp != "ZLBL*1:2=Front Door\tHall" {
		t.Errorf("SendCommand() = %q", resp)
	}
	got := panel.received()
	if len(got) != 2 || got[0].seq != got[1].seq {
		t.Errorf("panel received %+v, want the same command twice", got)
	}
	if tr.crc.Count() != 1 {
		t.Errorf("CRC failures = %d, want 1", tr.crc.Count())
	}
}

func TestBadCRCTwiceFails(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	panel.setAnswer(func(p *fakePanel, r received) []byte {
		frame := p.frame(r.seq, "ACK", false)
		frame[3] ^= 0x01
		return frame
	})
	if _, err := tr.SendCommand(context.Background(), "CLOCK", false); !errors.Is(err, ErrBadCRC) {
		t.Errorf("SendCommand() error = %v, want ErrBadCRC", err)
	}
}

func TestErrorCodeKeepsSequence(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	panel.setAnswer(func(p *fakePanel, r received) []byte {
		if r.cmd == "ARM=1" {
			return p.frame("", "N12", false)
		}
		return p.frame(r.seq, "ACK", false)
	})

	ctx := context.Background()
	if resp, err := tr.SendCommand(ctx, "ARM=1", false); err != nil || resp != "N12" {
		t.Fatalf("SendCommand(ARM=1) = (%q, %v), want N12", resp, err)
	}
	tr.SendCommand(ctx, "CLOCK", false)
	tr.SendCommand(ctx, "CLOCK", false)

	var seqs []string
	for _, r := range panel.received() {
		seqs = append(seqs, r.seq)
	}
	if strings.Join(seqs, ",") != "01,01,02" {
		t.Errorf("sequence ids = %v, want [01 01 02]", seqs)
	}
}

func TestCommandTimeout(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	panel.setAnswer(func(p *fakePanel, r received) []byte {
		if r.cmd == "SILENT" {
			return nil
		}
		return p.frame(r.seq, "ACK", false)
	})

	ctx := context.Background()
	if _, err := tr.SendCommand(ctx, "SILENT", false); !errors.Is(err, ErrTimeout) {
		t.Fatalf("SendCommand(SILENT) error = %v, want ErrTimeout", err)
	}
	if resp, err := tr.SendCommand(ctx, "CLOCK", false); err != nil || resp != "ACK" {
		t.Errorf("SendCommand(CLOCK) = (%q, %v) after a timeout", resp, err)
	}
}

func TestResultHelpers(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	panel.setAnswer(func(p *fakePanel, r received) []byte {
		switch r.cmd {
		case "ZLBL*1:2?":
			return p.frame(r.seq, "ZLBL*1:2= Front Door\tHall ", false)
		case "ZLBL*3:4?":
			return p.frame(r.seq, "ZLBL*3:4=\tGarage\t", false)
		case "OPULSE1?":
			return p.frame(r.seq, "OPULSE1=  5", false)
		case "ARM=1":
			return p.frame("", "N12", false)
		}
		return p.frame(r.seq, "ACK", false)
	})

	ctx := context.Background()
	if s, err := tr.GetResult(ctx, "ZLBL*1:2?"); err != nil || s != "Front Door\tHall" {
		t.Errorf("GetResult() = (%q, %v)", s, err)
	}
	if s, err := tr.GetResult(ctx, "ZLBL*3:4?"); err != nil || s != "\tGarage\t" {
		t.Errorf("GetResult() = (%q, %v), empty fields dropped", s, err)
	}
	if n, err := tr.GetIntResult(ctx, "OPULSE1?"); err != nil || n != 5 {
		t.Errorf("GetIntResult() = (%d, %v), want 5", n, err)
	}
	if ok, err := tr.GetAckResult(ctx, "ZBYPAS=3", false); err != nil || !ok {
		t.Errorf("GetAckResult(ZBYPAS=3) = (%v, %v), want true", ok, err)
	}
	ok, err := tr.GetAckResult(ctx, "ARM=1", false)
	var perr *PanelError
	if ok || !errors.As(err, &perr) || perr.Code != "N12" {
		t.Errorf("GetAckResult(ARM=1) = (%v, %v), want PanelError N12", ok, err)
	}
}

func TestDisconnectOnce(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := newTestTransport(t, Options{PanelID: 1, Password: "5678"}, conn)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tr.Disconnect()
	tr.Disconnect()

	waitEvent(t, tr, EventDisconnected)
	select {
	case e := <-tr.Events():
		if e.Type == EventDisconnected {
			t.Error("Disconnected emitted twice")
		}
	case <-time.After(50 * time.Millisecond):
	}
	if tr.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	waitFor(t, "DCN", func() bool {
		cmds := panel.commands()
		return cmds[len(cmds)-1] == "DCN"
	})
	if _, err := tr.SendCommand(context.Background(), "CLOCK", false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() after Disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestBadCRCLimitDisconnects(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	for i := 0; i <= badCRCLimit; i++ {
		frame := panel.frame("60", "ZSTT1=O", false)
		frame[4] ^= 0x01
		panel.send(frame)
	}
	waitEvent(t, tr, EventBadCRCLimit)
	waitEvent(t, tr, EventDisconnected)
}

func TestWatchdogSkipsProgrammingMode(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	tr.SetProgMode(true)
	tr.StartWatchdog(10 * time.Millisecond)
	tr.StartWatchdog(10 * time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	if n := len(panel.received()); n != 0 {
		t.Fatalf("watchdog sent %d commands in programming mode", n)
	}

	tr.SetProgMode(false)
	waitFor(t, "CLOCK", func() bool {
		cmds := panel.commands()
		return len(cmds) > 0 && cmds[0] == "CLOCK"
	})
}

func TestCommandWaitsForProgrammingMode(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	tr.SetProgMode(true)
	done := make(chan error, 1)
	go func() {
		_, err := tr.SendCommand(context.Background(), "CLOCK", false)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if n := len(panel.received()); n != 0 {
		t.Fatalf("command sent while in programming mode")
	}
	tr.SetProgMode(false)
	if err := <-done; err != nil {
		t.Errorf("SendCommand() error = %v", err)
	}
}

func TestModifyPanelConfig(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	if err := tr.ModifyPanelConfig(context.Background(), []string{"ELASEN=0", "INTP=pool.ntp.org"}); err != nil {
		t.Fatalf("ModifyPanelConfig() error = %v", err)
	}
	want := "PROG=1,ELASEN=0,INTP=pool.ntp.org,PROG=2"
	if got := strings.Join(panel.commands(), ","); got != want {
		t.Errorf("commands = %s, want %s", got, want)
	}
	if !tr.InProg() {
		t.Error("InProg() = false before the panel reports the end of programming mode")
	}
}

func TestModifyPanelConfigRejected(t *testing.T) {
	panel, conn := newFakePanel(t, 1, "5678")
	tr := attached(t, conn)

	panel.setAnswer(func(p *fakePanel, r received) []byte {
		if r.cmd == "ELASEN=1" {
			return p.frame("", "N05", false)
		}
		return p.frame(r.seq, "ACK", false)
	})

	err := tr.EnableRiscoCloud(context.Background())
	var perr *PanelError
	if !errors.As(err, &perr) || perr.Code != "N05" {
		t.Fatalf("EnableRiscoCloud() error = %v, want PanelError N05", err)
	}
	want := "PROG=1,ELASEN=1,PROG=2"
	if got := strings.Join(panel.commands(), ","); got != want {
		t.Errorf("commands = %s, want %s", got, want)
	}
}
