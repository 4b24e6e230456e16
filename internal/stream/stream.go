// Package stream carries session events over a WebSocket.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mosaictheory-jt/panel-chat/internal/protocol"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
)

const (
	writeWait = 5 * time.Second
	frameBuf  = 64
)

// Dialer opens event streams against a panel backend.
type Dialer struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewDialer creates a dialer for the backend at serverURL. http and https
// addresses are mapped to ws and wss.
func NewDialer(serverURL string, handshakeTimeout time.Duration) *Dialer {
	return &Dialer{
		baseURL: strings.TrimRight(serverURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// URL returns the stream endpoint for a session.
func (d *Dialer) URL(sessionID string) (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme: %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/surveys/" + url.PathEscape(sessionID)
	return u.String(), nil
}

// Open connects to the session stream and sends the handshake. ctx bounds
// the dial and handshake only.
func (d *Dialer) Open(ctx context.Context, sessionID string, hs protocol.Handshake) (session.Stream, error) {
	return d.Connect(ctx, sessionID, hs)
}

// Connect is Open returning the concrete stream.
func (d *Dialer) Connect(ctx context.Context, sessionID string, hs protocol.Handshake) (*Conn, error) {
	target, err := d.URL(sessionID)
	if err != nil {
		return nil, err
	}

	ws, _, err := d.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetWriteDeadline(deadline)
	} else {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
	}
	if err := ws.WriteJSON(hs); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	ws.SetWriteDeadline(time.Time{})

	slog.Debug("Stream opened", "id", sessionID, "url", target)

	c := &Conn{
		ws:     ws,
		id:     sessionID,
		frames: make(chan protocol.Frame, frameBuf),
		done:   make(chan struct{}),
	}
	go c.reader()
	return c, nil
}

// Conn is one open session stream.
type Conn struct {
	ws     *websocket.Conn
	id     string
	frames chan protocol.Frame
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

// Frames yields decoded events until the stream ends.
func (c *Conn) Frames() <-chan protocol.Frame {
	return c.frames
}

// Err reports why the stream ended. It is nil for a local Close or a normal
// closure by the server.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the stream. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) reader() {
	defer close(c.frames)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			failed := !c.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure)
			if failed {
				c.err = err
			}
			c.mu.Unlock()
			if failed {
				slog.Warn("Stream read failed", "id", c.id, "error", err)
			}
			c.ws.Close()
			return
		}

		p, err := protocol.Decode(data)
		frame := protocol.Frame{Payload: p, Err: err}
		var perr *protocol.ProtocolError
		if errors.As(err, &perr) {
			slog.Debug("Undecodable frame", "id", c.id, "type", perr.Type)
		}

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}
