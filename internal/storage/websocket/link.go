package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/resourceflow/flowsim/pkg/streaming"
)

const (
	outboxSize   = 10_000
	maxRedial    = 10
	firstBackoff = time.Second
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// link owns one collector connection. A single serve goroutine writes
// frames; a reader goroutine routes acks to waiters. When the connection
// drops, the run handshake (start_run and every add_vessel since) is
// replayed on the new connection before queued frames resume.
type link struct {
	outbox  chan []byte
	dropped atomic.Uint64

	mu        sync.Mutex
	handshake [][]byte
	waiters   map[string][]chan struct{}
	closed    bool

	done    chan struct{}
	serving sync.WaitGroup

	target      *url.URL
	dialTimeout time.Duration
	backoff     time.Duration
	logger      *slog.Logger
}

func newLink(logger *slog.Logger, dialTimeout time.Duration) *link {
	return &link{
		outbox:      make(chan []byte, outboxSize),
		waiters:     map[string][]chan struct{}{},
		done:        make(chan struct{}),
		dialTimeout: dialTimeout,
		backoff:     firstBackoff,
		logger:      logger,
	}
}

// open resolves the collector URL and makes the first connection.
func (l *link) open(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	l.target = u

	conn, err := l.dial()
	if err != nil {
		return err
	}
	l.start(conn)
	return nil
}

func (l *link) dial() (*ws.Conn, error) {
	dialer := *ws.DefaultDialer
	if l.dialTimeout > 0 {
		dialer.HandshakeTimeout = l.dialTimeout
	}
	conn, _, err := dialer.Dial(l.target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (l *link) start(conn *ws.Conn) {
	l.serving.Add(1)
	go l.serve(conn)
}

func (l *link) serve(conn *ws.Conn) {
	defer l.serving.Done()

	readErr := make(chan error, 1)
	go func() { readErr <- l.readAcks(conn) }()

	err := l.writeFrames(conn, readErr)
	if err == nil {
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	_ = conn.Close()
	l.logger.Warn("WebSocket link lost", "error", err)

	next, ok := l.redial()
	if !ok {
		return
	}
	l.serving.Add(1)
	go l.serve(next)
}

// writeFrames returns nil on shutdown, otherwise the error that broke the
// connection.
func (l *link) writeFrames(conn *ws.Conn, readErr <-chan error) error {
	for {
		select {
		case <-l.done:
			return nil
		case err := <-readErr:
			return err
		case frame := <-l.outbox:
			if err := writeFrame(conn, frame); err != nil {
				return err
			}
		}
	}
}

func writeFrame(conn *ws.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, frame)
}

func (l *link) readAcks(conn *ws.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var ack streaming.AckMessage
		if err := json.Unmarshal(msg, &ack); err != nil || ack.Type != "ack" {
			l.logger.Debug("Ignoring collector message", "raw", string(msg))
			continue
		}
		l.release(ack.For)
	}
}

// redial reconnects with exponential backoff and replays the handshake.
func (l *link) redial() (*ws.Conn, bool) {
	backoff := l.backoff
	for attempt := 1; attempt <= maxRedial; attempt++ {
		select {
		case <-l.done:
			return nil, false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)

		conn, err := l.dial()
		if err != nil {
			l.logger.Warn("WebSocket redial failed", "attempt", attempt, "error", err)
			continue
		}
		if err := l.replay(conn); err != nil {
			l.logger.Warn("Handshake replay failed", "attempt", attempt, "error", err)
			_ = conn.Close()
			continue
		}
		l.logger.Info("WebSocket reconnected", "attempt", attempt)
		return conn, true
	}
	l.logger.Error("WebSocket reconnect gave up", "attempts", maxRedial)
	return nil, false
}

func (l *link) replay(conn *ws.Conn) error {
	l.mu.Lock()
	frames := append([][]byte(nil), l.handshake...)
	l.mu.Unlock()
	for _, f := range frames {
		if err := writeFrame(conn, f); err != nil {
			return err
		}
	}
	return nil
}

// resetHandshake starts a new handshake with frame (start_run); nil clears it.
func (l *link) resetHandshake(frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handshake = l.handshake[:0]
	if frame != nil {
		l.handshake = append(l.handshake, frame)
	}
}

func (l *link) remember(frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handshake) > 0 {
		l.handshake = append(l.handshake, frame)
	}
}

// send queues a frame without blocking; a full outbox drops it.
func (l *link) send(frame []byte) bool {
	select {
	case l.outbox <- frame:
		return true
	default:
		l.dropped.Add(1)
		l.logger.Warn("WebSocket outbox full, dropping frame")
		return false
	}
}

func (l *link) pending() int { return len(l.outbox) }

// request queues frame and waits for the collector to ack msgType.
func (l *link) request(ctx context.Context, frame []byte, msgType string) error {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	l.waiters[msgType] = append(l.waiters[msgType], ch)
	l.mu.Unlock()
	defer l.forget(msgType, ch)

	if !l.send(frame) {
		return fmt.Errorf("outbox full, %s not sent", msgType)
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ack of %q: %w", msgType, ctx.Err())
	case <-l.done:
		return fmt.Errorf("connection closed while waiting for ack of %q", msgType)
	}
}

// release wakes the oldest waiter for msgType.
func (l *link) release(msgType string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.waiters[msgType]
	if len(q) == 0 {
		l.logger.Debug("Unexpected ack", "for", msgType)
		return
	}
	q[0] <- struct{}{}
	l.waiters[msgType] = q[1:]
}

func (l *link) forget(msgType string, ch chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.waiters[msgType]
	for i, w := range q {
		if w == ch {
			l.waiters[msgType] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

// close stops the serve goroutine, which sends a close frame on its way out.
func (l *link) close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	l.serving.Wait()
	return nil
}
