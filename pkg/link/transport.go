// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// DefaultBaud is the radio's factory serial rate
const DefaultBaud = 9600

// Connection is a byte stream to the local radio
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection is a local serial port
type SerialConnection struct {
	serial.Port
	device string
}

func (s *SerialConnection) String() string { return s.device }

// ErrConnectionClosed is returned once the bridge connection has gone away
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection carries the radio's byte stream over a serial bridge
// that forwards each chunk as a binary WebSocket message. Reads stream the
// current message; writes are not safe for concurrent use, the link
// serialises them.
type WebSocketConnection struct {
	conn *websocket.Conn
	msg  io.Reader
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	for {
		if w.msg == nil {
			kind, r, err := w.conn.NextReader()
			if err != nil {
				return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			// Text messages are bridge chatter, not radio bytes
			if kind != websocket.BinaryMessage {
				continue
			}
			w.msg = r
		}

		n, err := w.msg.Read(p)
		if errors.Is(err, io.EOF) {
			w.msg = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerial opens the radio's serial device 8N1 with no flow control
func OpenSerial(device string, baud int) (*SerialConnection, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, &IOError{Op: "open " + device, Err: err}
	}
	return &SerialConnection{Port: port, device: device}, nil
}

// OpenWebSocket dials a serial bridge at wsURL
func OpenWebSocket(ctx context.Context, wsURL string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, &IOError{Op: "dial " + wsURL, Err: err}
	}
	return &WebSocketConnection{conn: conn}, nil
}
