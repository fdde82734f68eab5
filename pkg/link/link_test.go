// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/xbee"
	"github.com/rs/zerolog"
)

const waitTimeout = 2 * time.Second

type readResult struct {
	data []byte
	err  error
}

// fakeConn feeds scripted reads and records writes
type fakeConn struct {
	reads chan readResult

	mu      sync.Mutex
	written [][]byte
	wrote   chan struct{}

	writeErrs []error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan readResult, 16),
		wrote:  make(chan struct{}, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	select {
	case r := <-c.reads:
		return copy(p, r.data), r.err
	case <-c.closed:
		return 0, io.ErrClosedPipe
	}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.writeErrs) > 0 {
		err := c.writeErrs[0]
		c.writeErrs = c.writeErrs[1:]
		c.mu.Unlock()
		return 0, err
	}
	c.written = append(c.written, append([]byte(nil), p...))
	c.mu.Unlock()
	c.wrote <- struct{}{}
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func waitDone(t *testing.T, l *Link) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(waitTimeout):
		t.Fatal("link did not shut down")
	}
}

func explicitRxBytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	data := make([]byte, 17)
	data[7] = 0x01
	data = append(data, payload...)
	encoded, err := xbee.EncodeFrameFromValues(xbee.FrameExplicitRx, data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return encoded
}

// ============================================================
// Receive Tests
// ============================================================

func TestSubscribe_DispatchesByKind(t *testing.T) {
	conn := newFakeConn()
	l := New(conn, zerolog.Nop())

	rx := make(chan *xbee.Frame, 1)
	status := make(chan *xbee.Frame, 1)
	l.Subscribe(xbee.KindExplicitRx, func(f *xbee.Frame) { rx <- f })
	l.Subscribe(xbee.KindTxStatus, func(f *xbee.Frame) { status <- f })
	l.Start()
	defer l.Close()

	// Split across reads to exercise the decoder's state
	raw := explicitRxBytes(t, []byte{0x70})
	conn.reads <- readResult{data: raw[:5]}
	conn.reads <- readResult{data: raw[5:]}

	select {
	case f := <-rx:
		if f.Type() != xbee.FrameExplicitRx {
			t.Errorf("type: got 0x%02X", f.Type())
		}
	case <-time.After(waitTimeout):
		t.Fatal("explicit rx not delivered")
	}

	select {
	case <-status:
		t.Error("tx status handler called for explicit rx")
	default:
	}
}

func TestSubscribeAll_SeesUnknownKinds(t *testing.T) {
	conn := newFakeConn()
	l := New(conn, zerolog.Nop())

	got := make(chan *xbee.Frame, 1)
	l.SubscribeAll(func(f *xbee.Frame) { got <- f })
	l.Start()
	defer l.Close()

	raw, _ := xbee.EncodeFrameFromValues(0xA1, []byte{0x01})
	conn.reads <- readResult{data: raw}

	select {
	case f := <-got:
		if f.Kind() != xbee.KindUnknown {
			t.Errorf("kind: got %s", f.Kind())
		}
	case <-time.After(waitTimeout):
		t.Fatal("frame not delivered")
	}
}

func TestRead_TransientErrorsRetried(t *testing.T) {
	conn := newFakeConn()
	l := New(conn, zerolog.Nop())

	got := make(chan *xbee.Frame, 1)
	l.Subscribe(xbee.KindExplicitRx, func(f *xbee.Frame) { got <- f })
	l.Start()
	defer l.Close()

	transient := errors.New("framing error")
	conn.reads <- readResult{err: transient}
	conn.reads <- readResult{err: transient}
	conn.reads <- readResult{data: explicitRxBytes(t, []byte{0x70})}

	select {
	case <-got:
	case <-time.After(waitTimeout):
		t.Fatal("frame after transient errors not delivered")
	}
	if err := l.Err(); err != nil {
		t.Errorf("unexpected fatal error: %v", err)
	}
}

func TestRead_PersistentErrorIsFatal(t *testing.T) {
	tests := []struct {
		name string
		errs []error
	}{
		{"repeated", []error{errors.New("eio"), errors.New("eio"), errors.New("eio")}},
		{"websocket closed", []error{ErrConnectionClosed}},
		{"eof", []error{io.EOF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			l := New(conn, zerolog.Nop())
			l.Start()

			for _, err := range tt.errs {
				conn.reads <- readResult{err: err}
			}
			waitDone(t, l)

			err := l.Err()
			if !errors.Is(err, ErrLinkIO) {
				t.Fatalf("expected ErrLinkIO, got %v", err)
			}
			var ioErr *IOError
			if !errors.As(err, &ioErr) || ioErr.Op != "read" {
				t.Errorf("expected read IOError, got %v", err)
			}
			if !errors.Is(l.Send(xbee.NewNodeDiscover(1)), ErrLinkIO) {
				t.Error("send after failure should report the link error")
			}
		})
	}
}

func TestRead_BadChecksumCounted(t *testing.T) {
	conn := newFakeConn()
	l := New(conn, zerolog.Nop())

	got := make(chan *xbee.Frame, 1)
	l.Subscribe(xbee.KindExplicitRx, func(f *xbee.Frame) { got <- f })
	l.Start()
	defer l.Close()

	bad := explicitRxBytes(t, []byte{0x70})
	bad[len(bad)-1] ^= 0x01
	conn.reads <- readResult{data: bad}
	conn.reads <- readResult{data: explicitRxBytes(t, []byte{0x70})}

	select {
	case <-got:
	case <-time.After(waitTimeout):
		t.Fatal("good frame not delivered")
	}
	if s := l.Stats(); s.ChecksumErrors != 1 || s.ValidFrames != 1 {
		t.Errorf("stats: %+v", s)
	}
}

func TestRead_MalformedFrameLogsRawBytes(t *testing.T) {
	var logs bytes.Buffer
	conn := newFakeConn()
	l := New(conn, zerolog.New(zerolog.SyncWriter(&logs)).Level(zerolog.DebugLevel))

	got := make(chan *xbee.Frame, 1)
	l.Subscribe(xbee.KindExplicitRx, func(f *xbee.Frame) { got <- f })
	l.Start()
	defer l.Close()

	bad := explicitRxBytes(t, []byte{0x70})
	bad[len(bad)-1] ^= 0x01
	conn.reads <- readResult{data: bad}
	conn.reads <- readResult{data: explicitRxBytes(t, []byte{0x70})}

	select {
	case <-got:
	case <-time.After(waitTimeout):
		t.Fatal("good frame not delivered")
	}

	out := logs.String()
	if !strings.Contains(out, "Dropping malformed frame") {
		t.Fatalf("malformed frame not logged: %s", out)
	}
	if want := "raw: " + xbee.FormatHex(bad); !strings.Contains(out, want) {
		t.Errorf("log does not carry the raw frame %q: %s", want, out)
	}
}

// ============================================================
// Send Tests
// ============================================================

func TestSend_WritesEncodedFrame(t *testing.T) {
	conn := newFakeConn()
	l := New(conn, zerolog.Nop())
	l.Start()
	defer l.Close()

	f := xbee.NewExplicitTx(7, 0x0013A20040ABCDEF, []byte{0x10, 0x00, 0x00, 0x19})
	if err := l.Send(f); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-conn.wrote:
	case <-time.After(waitTimeout):
		t.Fatal("nothing written")
	}
	written := conn.frames()
	if len(written) != 1 || !bytes.Equal(written[0], xbee.EncodeFrame(f)) {
		t.Errorf("written: % X", written)
	}
}

func TestSend_TransientWriteErrorRetried(t *testing.T) {
	conn := newFakeConn()
	conn.writeErrs = []error{errors.New("busy")}
	l := New(conn, zerolog.Nop())
	l.Start()
	defer l.Close()

	if err := l.Send(xbee.NewNodeDiscover(1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-conn.wrote:
	case <-time.After(waitTimeout):
		t.Fatal("retry not written")
	}
	if l.Err() != nil {
		t.Errorf("unexpected fatal error: %v", l.Err())
	}
}

func TestSend_PersistentWriteErrorIsFatal(t *testing.T) {
	conn := newFakeConn()
	fail := errors.New("device gone")
	conn.writeErrs = []error{fail, fail, fail}
	l := New(conn, zerolog.Nop())
	l.Start()

	_ = l.Send(xbee.NewNodeDiscover(1))
	waitDone(t, l)

	if !errors.Is(l.Err(), ErrLinkIO) || !errors.Is(l.Err(), fail) {
		t.Errorf("expected wrapped write failure, got %v", l.Err())
	}
}

func TestClose_Idempotent(t *testing.T) {
	conn := newFakeConn()
	l := New(conn, zerolog.Nop())
	l.Start()

	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	waitDone(t, l)

	if err := l.Send(xbee.NewNodeDiscover(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if l.Err() != nil {
		t.Errorf("clean close recorded an error: %v", l.Err())
	}
}

func TestNextFrameID_SkipsZero(t *testing.T) {
	l := New(newFakeConn(), zerolog.Nop())
	seen := make(map[byte]bool)
	for i := 0; i < 255; i++ {
		id := l.NextFrameID()
		if id == 0 {
			t.Fatal("frame id 0 is reserved")
		}
		seen[id] = true
	}
	if len(seen) != 255 {
		t.Errorf("expected 255 distinct ids, got %d", len(seen))
	}
}
