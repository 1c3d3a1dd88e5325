package risco

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
)

// keySearchMinLen is the shortest intercepted frame worth a key search.
const keySearchMinLen = 90

// proxyState is the RiscoCloud side of a proxy-mode transport. Fields are
// guarded by Transport.mu except cwmu, which serializes cloud writes.
type proxyState struct {
	listener      net.Listener
	cloud         net.Conn
	cwmu          sync.Mutex
	cloudReady    bool
	readyTimer    *time.Timer
	inRemote      bool
	lastRmtID     string
	lastForwarded string
	keySearch     bool
}

// InRemote reports whether RiscoCloud currently owns a remote session.
func (t *Transport) InRemote() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proxy.inRemote
}

// CloudConnected reports whether the cloud leg has settled.
func (t *Transport) CloudConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proxy.cloudReady
}

func (t *Transport) connectProxy(ctx context.Context) error {
	ln, err := t.proxyListener()
	if err != nil {
		return err
	}

	t.log.Info("Waiting for the panel on %s", ln.Addr())
	panel, err := acceptContext(ctx, ln)
	if err != nil {
		return fmt.Errorf("failed to accept panel connection: %w", err)
	}
	t.log.Info("Panel connected from %s", panel.RemoteAddr())

	cloud, err := t.dialCloud(ctx)
	if err != nil {
		panel.Close()
		return err
	}

	t.attach(panel)
	t.mu.Lock()
	t.proxy.cloud = cloud
	t.proxy.cloudReady = false
	t.proxy.readyTimer = nil
	t.proxy.inRemote = false
	t.proxy.lastRmtID = ""
	t.proxy.lastForwarded = ""
	closed := t.closed
	t.mu.Unlock()

	go t.relay(panel, cloud)

	if err := t.waitCloudReady(ctx, closed); err != nil {
		t.Disconnect()
		return err
	}
	return t.establish(ctx)
}

func (t *Transport) proxyListener() (net.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proxy.listener != nil {
		return t.proxy.listener, nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.opts.ListenPort))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", t.opts.ListenPort, err)
	}
	t.proxy.listener = ln
	return ln, nil
}

func (t *Transport) closeListener() {
	t.mu.Lock()
	ln := t.proxy.listener
	t.proxy.listener = nil
	t.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
}

func acceptContext(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// dialCloud connects to RiscoCloud, retrying while the connection is refused.
func (t *Transport) dialCloud(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(t.opts.CloudHost, strconv.Itoa(t.opts.CloudPort))
	var conn net.Conn
	op := func() error {
		c, err := t.dial(ctx, "tcp", addr)
		if err != nil {
			if errors.Is(err, syscall.ECONNREFUSED) {
				return err
			}
			return backoff.Permanent(err)
		}
		conn = c
		return nil
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(t.timeouts.CloudRetry), ctx)
	notify := func(err error, next time.Duration) {
		t.log.Warn("RiscoCloud refused the connection, retrying in %s", next)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to RiscoCloud at %s: %w", addr, err)
	}
	t.log.Info("Connected to RiscoCloud at %s", addr)
	return conn, nil
}

func (t *Transport) waitCloudReady(ctx context.Context, closed chan struct{}) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		ready := t.proxy.cloudReady && !t.proxy.inRemote
		t.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return ErrNotConnected
		case <-ticker.C:
		}
	}
}

// relay runs both legs until either fails, then tears both down.
func (t *Transport) relay(panel, cloud net.Conn) {
	var g errgroup.Group
	g.Go(func() error {
		defer t.teardown(panel, false)
		return t.readLoop(panel, t.fromPanel)
	})
	g.Go(func() error {
		defer t.teardown(panel, false)
		return t.readLoop(cloud, t.fromCloud)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.log.Warn("Proxy relay stopped: %v", err)
	}
}

func (t *Transport) closeCloud() {
	t.mu.Lock()
	cloud := t.proxy.cloud
	t.proxy.cloud = nil
	t.proxy.cloudReady = false
	t.proxy.inRemote = false
	if t.proxy.readyTimer != nil {
		t.proxy.readyTimer.Stop()
		t.proxy.readyTimer = nil
	}
	t.mu.Unlock()
	if cloud != nil {
		cloud.Close()
	}
}

func (t *Transport) writeCloud(frame []byte) {
	t.mu.Lock()
	cloud := t.proxy.cloud
	t.mu.Unlock()
	if cloud == nil {
		return
	}
	t.proxy.cwmu.Lock()
	defer t.proxy.cwmu.Unlock()
	t.log.Wire("cloud-tx", frame)
	cloud.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := cloud.Write(frame); err != nil {
		t.log.Warn("Failed to relay frame to RiscoCloud: %v", err)
	}
}

func (t *Transport) writePanel(frame []byte) {
	if err := t.writeFrame(frame); err != nil {
		t.log.Warn("Failed to relay frame to the panel: %v", err)
	}
}

// fromPanel routes a frame read from the panel socket in proxy mode.
func (t *Transport) fromPanel(frame []byte) {
	if IsCloudFrame(frame) {
		t.writeCloud(frame)
		return
	}
	if !t.InRemote() {
		t.handleFrame(frame)
		return
	}
	if !IsEncrypted(frame) {
		t.writeCloud(frame)
		return
	}

	seq, cmd, ok := t.codec.Decode(frame)
	if !ok && len(frame) > keySearchMinLen {
		t.searchKey(frame)
	}
	// Pushes belong to the bridge even while the cloud holds the session.
	if ok && isPushSeq(seq) {
		t.ackPush(seq, cmd)
		return
	}
	if t.shouldForward(seq) {
		t.writeCloud(frame)
	}
	if ok && strings.Contains(cmd, "STT") {
		t.push(seq, cmd)
	}
}

// shouldForward passes a panel answer to the cloud once per cloud request.
func (t *Transport) shouldForward(seq string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq == "" || seq != t.proxy.lastRmtID || seq == t.proxy.lastForwarded {
		return false
	}
	t.proxy.lastForwarded = seq
	return true
}

// searchKey looks for the panel id behind an undecodable remote-session frame
// without holding up the relay.
func (t *Transport) searchKey(frame []byte) {
	t.mu.Lock()
	if t.inCryptTest || t.proxy.keySearch {
		t.mu.Unlock()
		return
	}
	t.proxy.keySearch = true
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.proxy.keySearch = false
			t.mu.Unlock()
		}()
		id, ok := SearchPanelID(frame, 9999)
		if !ok {
			t.log.Warn("No panel id decodes the remote session traffic")
			return
		}
		t.log.Info("Panel id %d recovered from remote session traffic", id)
		t.codec.SetPanelID(id)
		t.emit(Event{Type: EventCryptKeyFound, Data: strconv.Itoa(id)})
	}()
}

// fromCloud forwards a RiscoCloud frame to the panel, then answers the
// session commands the proxy can handle itself.
func (t *Transport) fromCloud(frame []byte) {
	t.writePanel(frame)
	if IsCloudFrame(frame) {
		t.armCloudReady()
		return
	}

	seq, cmd, ok := t.codec.Decode(frame)
	t.mu.Lock()
	t.proxy.lastRmtID = seq
	t.proxy.lastForwarded = ""
	connected := t.connected
	inRemote := t.proxy.inRemote
	password := t.password
	t.mu.Unlock()

	if !IsEncrypted(frame) {
		switch {
		case strings.Contains(cmd, "RMT="):
			t.setRemote(true)
			t.log.Info("RiscoCloud opened a remote session")
			t.emit(Event{Type: EventIncomingRemote})
			if connected && sameCode(cmd[strings.Index(cmd, "=")+1:], password) {
				t.writeCloud(t.codec.EncodeWith("ACK", seq, false))
			}
		case strings.Contains(cmd, "LCL"):
			if connected {
				t.writeCloud(t.codec.EncodeWith("ACK", seq, false))
			}
		}
		return
	}

	if inRemote && ok && strings.Contains(cmd, "DCN") {
		t.setRemote(false)
		t.writeCloud(t.codec.EncodeWith("ACK", seq, true))
		t.log.Info("RiscoCloud closed the remote session")
		t.emit(Event{Type: EventEndIncomingRemote})
	}
}

func (t *Transport) setRemote(on bool) {
	t.mu.Lock()
	t.proxy.inRemote = on
	t.mu.Unlock()
}

// armCloudReady flags the cloud leg ready a while after its first frame.
func (t *Transport) armCloudReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proxy.readyTimer != nil || t.proxy.cloudReady {
		return
	}
	t.proxy.readyTimer = time.AfterFunc(t.timeouts.CloudReady, func() {
		t.mu.Lock()
		if t.proxy.cloud == nil {
			t.mu.Unlock()
			return
		}
		t.proxy.cloudReady = true
		t.mu.Unlock()
		t.log.Info("RiscoCloud connection settled")
		t.emit(Event{Type: EventCloudConnected})
	})
}

func sameCode(a, b string) bool {
	x, errA := strconv.Atoi(strings.TrimSpace(a))
	y, errB := strconv.Atoi(strings.TrimSpace(b))
	return errA == nil && errB == nil && x == y
}
