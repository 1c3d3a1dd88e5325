package risco

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const codeAttempts = 3

// handshake authenticates with RMT/LCL, turns encryption on and checks the
// key table against a live answer, running discovery where allowed.
func (t *Transport) handshake(ctx context.Context) error {
	t.cmdMu.Lock()
	defer t.cmdMu.Unlock()

	code := t.Password()
	width := defaultCode
	if len(code) > width {
		width = len(code)
	}
	resp, err := t.exchange(ctx, "RMT="+padCode(code, width), false, true)
	if err != nil {
		return fmt.Errorf("RMT: %w", err)
	}
	if resp != "ACK" {
		if !IsErrorCode(resp) {
			return fmt.Errorf("%w: RMT answered %q", ErrHandshake, resp)
		}
		t.log.Warn("Panel rejected access code (%s)", resp)
		t.emit(Event{Type: EventBadAccessCode})
		if !t.opts.DiscoverCode {
			return ErrBadAccessCode
		}
		if err := t.discoverAccessCode(ctx); err != nil {
			return err
		}
	}

	resp, err = t.exchange(ctx, "LCL", false, true)
	if err != nil {
		return fmt.Errorf("LCL: %w", err)
	}
	if resp != "ACK" {
		return fmt.Errorf("%w: LCL answered %q", ErrHandshake, resp)
	}

	t.codec.SetEncrypting(true)
	if err := sleepContext(ctx, t.timeouts.Settle); err != nil {
		return err
	}

	if !t.cryptTest(ctx) {
		t.log.Warn("Panel id %d does not decode panel answers", t.codec.PanelID())
		t.emit(Event{Type: EventBadCryptKey})
		if !t.opts.DiscoverCode {
			return ErrBadCryptKey
		}
		if err := t.discoverPanelID(ctx); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.log.Info("Connection to the panel established (panel id %d)", t.codec.PanelID())
	t.emit(Event{Type: EventConnected})
	return nil
}

// cryptTest sends a query with a long answer and reports whether it came back
// with a valid CRC. A failing answer is kept for discovery.
func (t *Transport) cryptTest(ctx context.Context) bool {
	t.mu.Lock()
	t.inCryptTest = true
	t.badFrame = nil
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inCryptTest = false
		t.mu.Unlock()
	}()

	resp, err := t.exchange(ctx, "CUSTLST?", false, false)
	if err != nil {
		t.log.Debug("Crypt test failed: %v", err)
		return false
	}
	return !IsErrorCode(resp)
}

// discoverPanelID searches ids from 9999 downward for one that decodes the
// captured answer as an error code, and keeps the first one the panel also
// accepts live.
func (t *Transport) discoverPanelID(ctx context.Context) error {
	t.mu.Lock()
	frame := t.badFrame
	t.mu.Unlock()
	if frame == nil {
		return fmt.Errorf("%w: no answer captured", ErrBadCryptKey)
	}

	from := 9999
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok := SearchPanelIDFunc(frame, from, errorAnswer)
		if !ok {
			t.log.Error("Panel id discovery exhausted every candidate")
			return ErrBadCryptKey
		}
		t.log.Debug("Panel id %d is a candidate", id)
		t.codec.SetPanelID(id)
		if t.cryptTest(ctx) {
			t.log.Info("Discovered panel id %d", id)
			t.emit(Event{Type: EventCryptKeyFound, Data: fmt.Sprint(id)})
			return nil
		}
		from = id - 1
	}
}

// discoverAccessCode tries every code of one to six digits until the panel
// accepts one.
func (t *Transport) discoverAccessCode(ctx context.Context) error {
	t.mu.Lock()
	t.inDiscovery = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inDiscovery = false
		t.mu.Unlock()
	}()

	t.log.Info("Starting access code discovery")
	search := newCodeSearch()
	for code, ok := search.Next(); ok; code, ok = search.Next() {
		for attempt := 0; attempt < codeAttempts; attempt++ {
			resp, err := t.exchange(ctx, "RMT="+code, false, false)
			if errors.Is(err, ErrTimeout) || errors.Is(err, ErrBadCRC) {
				continue
			}
			if err != nil {
				return err
			}
			if resp == "ACK" {
				t.mu.Lock()
				t.password = code
				t.mu.Unlock()
				t.log.Info("Discovered access code %s", code)
				t.emit(Event{Type: EventAccessCodeFound, Data: code})
				return nil
			}
			break
		}
	}
	t.log.Error("Access code discovery exhausted every candidate")
	return ErrBadAccessCode
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
