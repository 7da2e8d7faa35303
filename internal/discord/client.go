// Package discord provides a client for Discord's local IPC socket,
// publishing Rich Presence through the SET_ACTIVITY command.
//
// The [Client] type manages the connection lifecycle and command framing.
// Platform-specific socket discovery is handled by conn_unix.go and
// conn_windows.go.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionClosed is returned when Discord sent a close frame.
	ErrConnectionClosed = errors.New("connection closed by discord")
	// ErrCommandRejected is returned when Discord answered a command with an
	// ERROR event. The connection stays usable.
	ErrCommandRejected = errors.New("command rejected")
)

// ///////////////////////////////////////////////
// Data Types
// ///////////////////////////////////////////////

// Timestamps holds the start timestamp for an activity, in Unix seconds.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
}

// Assets holds image keys (or external image URLs) and their tooltips.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Activity represents a Discord Rich Presence activity.
type Activity struct {
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
}

// response is the subset of a command reply the client inspects.
type response struct {
	Cmd   string `json:"cmd"`
	Evt   string `json:"evt"`
	Nonce string `json:"nonce"`
	Data  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// DialFunc opens a raw connection to the Discord IPC endpoint.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Client manages a connection to Discord's IPC socket.
type Client struct {
	// clientID is the Discord application (OAuth2 client) identifier.
	clientID string
	// dial opens the transport; defaults to platform socket discovery.
	dial DialFunc
	// pid is reported with every SET_ACTIVITY so Discord can tie the
	// activity to this process.
	pid int

	// mu protects conn and nonce from concurrent access.
	mu sync.Mutex
	// conn is the active IPC connection, or nil when disconnected.
	conn net.Conn
	// nonce is a monotonically increasing counter used to tag each command.
	nonce uint64
}

// Option configures a [Client].
type Option func(*Client)

// WithDialer replaces platform socket discovery.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// NewClient creates a Discord IPC client for the given application id.
func NewClient(clientID string, opts ...Option) *Client {
	c := &Client{
		clientID: clientID,
		dial:     connectToDiscord,
		pid:      os.Getpid(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes a connection to Discord and performs the handshake.
// An existing connection is closed first.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn

	if err := c.withDeadline(ctx, c.handshake); err != nil {
		c.dropLocked()
		return err
	}
	return nil
}

// SetActivity publishes activity. A transport failure drops the connection;
// callers detect that through [Client.Connected].
func (c *Client) SetActivity(ctx context.Context, activity *Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setActivityLocked(ctx, activity)
}

// ClearActivity removes the published activity.
func (c *Client) ClearActivity(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setActivityLocked(ctx, nil)
}

// Close closes the connection without clearing the activity. Discord drops
// the activity of a process whose socket closes.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether the client has an active connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ///////////////////////////////////////////////
// Internals
// ///////////////////////////////////////////////

func (c *Client) setActivityLocked(ctx context.Context, activity *Activity) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	args := map[string]any{
		"pid":      c.pid,
		"activity": activity,
	}
	err := c.withDeadline(ctx, func() error {
		return c.command("SET_ACTIVITY", args)
	})
	if err != nil && !errors.Is(err, ErrCommandRejected) {
		c.dropLocked()
	}
	return err
}

// withDeadline runs fn with the connection deadline tied to ctx: the ctx
// deadline applies up front and cancellation unblocks pending I/O.
// The caller must hold c.mu.
func (c *Client) withDeadline(ctx context.Context, fn func() error) error {
	conn := c.conn
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	err := fn()
	stop()
	_ = conn.SetDeadline(time.Time{})

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	// Only ctx-derived deadlines are ever set, so the I/O timer may simply
	// have fired before the context's own.
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// dropLocked closes and forgets the connection. The caller must hold c.mu.
func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// handshake sends the handshake frame and waits for the READY dispatch.
// The caller must hold c.mu.
func (c *Client) handshake() error {
	hello := map[string]any{"v": 1, "client_id": c.clientID}
	if err := WriteFrame(c.conn, OpHandshake, hello); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}

	resp, err := c.readReply("")
	if err != nil {
		return fmt.Errorf("reading handshake response: %w", err)
	}
	if resp.Evt == "ERROR" {
		return fmt.Errorf("handshake rejected: %s", resp.Data.Message)
	}
	if resp.Evt != "READY" {
		return fmt.Errorf("unexpected handshake response event %q", resp.Evt)
	}
	return nil
}

// command writes a command frame and waits for the reply with the same
// nonce. The caller must hold c.mu.
func (c *Client) command(cmd string, args map[string]any) error {
	c.nonce++
	nonce := strconv.FormatUint(c.nonce, 10)

	req := map[string]any{"cmd": cmd, "args": args, "nonce": nonce}
	if err := WriteFrame(c.conn, OpFrame, req); err != nil {
		return fmt.Errorf("writing %s: %w", cmd, err)
	}

	resp, err := c.readReply(nonce)
	if err != nil {
		return fmt.Errorf("reading %s reply: %w", cmd, err)
	}
	if resp.Evt == "ERROR" {
		return fmt.Errorf("%w: %s: %s (code %d)", ErrCommandRejected, cmd, resp.Data.Message, resp.Data.Code)
	}
	return nil
}

// readReply reads frames until one carries nonce (any data frame when nonce
// is empty). Pings are answered, unrelated dispatches are skipped.
func (c *Client) readReply(nonce string) (response, error) {
	for {
		f, err := ReadFrame(c.conn)
		if err != nil {
			return response{}, err
		}
		switch f.Op {
		case OpClose:
			var resp response
			_ = json.Unmarshal(f.Data, &resp)
			return response{}, fmt.Errorf("%w: %s", ErrConnectionClosed, resp.Data.Message)
		case OpPing:
			var pong json.RawMessage
			if len(f.Data) > 0 {
				pong = f.Data
			}
			if err := WriteFrame(c.conn, OpPong, pong); err != nil {
				return response{}, err
			}
			continue
		case OpFrame:
		default:
			continue
		}

		var resp response
		if err := json.Unmarshal(f.Data, &resp); err != nil {
			return response{}, fmt.Errorf("parsing reply: %w", err)
		}
		if nonce == "" || resp.Nonce == nonce {
			return resp, nil
		}
	}
}
