// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
	"github.com/Thermoquad/freeloader/pkg/dynamixel/dxlsim"
	"github.com/Thermoquad/freeloader/pkg/freeloader"
)

// autoPort selects serial port probing
const autoPort = "auto"

// probeRetries limits attempts per port while probing
const probeRetries = 3

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketPort carries the servo bus over a WebSocket bridge. Each binary
// message holds raw bus bytes in either direction.
type WebSocketPort struct {
	conn    *websocket.Conn
	in      chan []byte
	done    chan struct{}
	timeout time.Duration

	mu      sync.Mutex
	buf     []byte
	readErr error
	closed  bool
}

var _ dynamixel.Port = (*WebSocketPort)(nil)

func newWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	w := &WebSocketPort{
		conn:    conn,
		in:      make(chan []byte, 64),
		done:    make(chan struct{}),
		timeout: -1,
	}
	go w.readLoop()
	return w
}

// readLoop moves binary messages into the input channel until the
// connection fails
func (w *WebSocketPort) readLoop() {
	defer close(w.in)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}

		// Only binary messages carry bus bytes
		if messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case w.in <- data:
		case <-w.done:
			return
		}
	}
}

// Read returns buffered bytes, or waits up to the read timeout for the next
// message. It returns (0, nil) on timeout.
func (w *WebSocketPort) Read(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, ErrConnectionClosed
	}
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		w.mu.Unlock()
		return n, nil
	}
	timeout := w.timeout
	w.mu.Unlock()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data, ok := <-w.in:
		if !ok {
			return 0, w.closedErr()
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		n := copy(p, data)
		w.buf = append(w.buf, data[n:]...)
		return n, nil
	case <-expired:
		return 0, nil
	case <-w.done:
		return 0, ErrConnectionClosed
	}
}

func (w *WebSocketPort) closedErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.readErr != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, w.readErr)
	}
	return ErrConnectionClosed
}

func (w *WebSocketPort) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadTimeout sets how long Read waits; a negative timeout blocks
func (w *WebSocketPort) SetReadTimeout(t time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = t
	return nil
}

// ResetInputBuffer discards everything received so far
func (w *WebSocketPort) ResetInputBuffer() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = nil
	for {
		select {
		case _, ok := <-w.in:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

// Drain is a no-op: WriteMessage returns once the frame is sent
func (w *WebSocketPort) Drain() error {
	return nil
}

func (w *WebSocketPort) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	return w.conn.Close()
}

// OpenWebSocketPort opens a WebSocket bridge with HTTP Basic auth
func OpenWebSocketPort(wsURL, username, password string, skipSSLVerify bool) (*WebSocketPort, error) {
	// Parse and validate URL
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

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketPort(conn), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("FREELOADER_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenPort opens the bus selected by the flags: simulator, WebSocket bridge
// or serial port. Auto detection is handled by OpenLink.
func OpenPort() (dynamixel.Port, string, error) {
	if simulate {
		servo := dxlsim.New(dxlsim.WithID(uint8(settings.ServoID)))
		return servo, fmt.Sprintf("Simulated MX-64 (ID %d)", settings.ServoID), nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		port, err := OpenWebSocketPort(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if settings.Port != "" && settings.Port != autoPort {
		port, err := dynamixel.OpenSerialPort(settings.Port, settings.Baud)
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("Serial: %s @ %d baud", settings.Port, settings.Baud), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --simulate must be specified")
}

func linkOptions() []dynamixel.LinkOption {
	return append(settings.LinkOptions(), dynamixel.WithLogger(logger))
}

// OpenLink opens the bus and wraps it in a servo link. extra options apply
// after the configured ones.
func OpenLink(ctx context.Context, extra ...dynamixel.LinkOption) (*dynamixel.Link, string, error) {
	if settings.Port == autoPort && wsURL == "" && !simulate {
		return detectLink(ctx, extra)
	}

	port, connInfo, err := OpenPort()
	if err != nil {
		return nil, "", err
	}

	link, err := dynamixel.NewLink(port, append(linkOptions(), extra...)...)
	if err != nil {
		return nil, "", errors.Join(err, port.Close())
	}
	return link, connInfo, nil
}

// detectLink probes every serial port for the configured servo and returns a
// link on the first one that answers
func detectLink(ctx context.Context, extra []dynamixel.LinkOption) (*dynamixel.Link, string, error) {
	ports, err := dynamixel.SerialPorts()
	if err != nil {
		return nil, "", err
	}
	if len(ports) == 0 {
		return nil, "", fmt.Errorf("no serial ports found")
	}

	for _, name := range ports {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		if err := probePort(ctx, name); err != nil {
			logger.Info("probe failed", slog.String("port", name), slog.Any("err", err))
			continue
		}

		link, err := dynamixel.Open(name, append(linkOptions(), extra...)...)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("Serial: %s @ %d baud (detected)", name, settings.Baud), nil
	}

	return nil, "", fmt.Errorf("servo %d not found on %d serial ports", settings.ServoID, len(ports))
}

func probePort(ctx context.Context, name string) error {
	opts := append(linkOptions(), dynamixel.WithRetryLimit(probeRetries))
	link, err := dynamixel.Open(name, opts...)
	if err != nil {
		return err
	}
	_, err = link.RawPosition(ctx, settings.ServoID)
	return errors.Join(err, link.Close())
}

// OpenMachine opens a link and connects the crosshead machine to it
func OpenMachine(ctx context.Context) (*freeloader.Machine, string, error) {
	m, err := freeloader.NewMachine(settings.MachineConfig(), freeloader.WithLogger(logger))
	if err != nil {
		return nil, "", err
	}

	link, connInfo, err := OpenLink(ctx)
	if err != nil {
		return nil, "", err
	}

	// Connect closes the link on failure
	if err := m.Connect(ctx, link); err != nil {
		return nil, "", err
	}
	return m, connInfo, nil
}
