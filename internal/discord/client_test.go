// Tests for the [Client] type covering handshake, activity commands, reply
// matching, error classification, and connection lifecycle, using a fake
// Discord peer on the far end of a net.Pipe.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"testing"
	"time"
)

// ///////////////////////////////////////////////
// Fake Discord
// ///////////////////////////////////////////////

// peer is the server end of a piped connection.
type peer struct {
	t    *testing.T
	conn net.Conn
}

// pipeClient returns a client whose dialer hands out one end of a pipe, and
// the peer holding the other end.
func pipeClient(t *testing.T) (*Client, *peer) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	c := NewClient("test-client-id", WithDialer(func(context.Context) (net.Conn, error) {
		return client, nil
	}))
	return c, &peer{t: t, conn: server}
}

// read decodes the next frame from the client.
func (p *peer) read() (Opcode, map[string]any) {
	p.t.Helper()
	f, err := ReadFrame(p.conn)
	if err != nil {
		p.t.Errorf("peer read: %v", err)
		return 0, nil
	}
	var m map[string]any
	if err := json.Unmarshal(f.Data, &m); err != nil {
		p.t.Errorf("peer unmarshal: %v", err)
	}
	return f.Op, m
}

func (p *peer) send(op Opcode, v any) {
	p.t.Helper()
	if err := WriteFrame(p.conn, op, v); err != nil {
		p.t.Errorf("peer write: %v", err)
	}
}

// ready completes a handshake.
func (p *peer) ready() {
	p.t.Helper()
	p.read()
	p.send(OpFrame, map[string]any{"cmd": "DISPATCH", "evt": "READY"})
}

// ack answers a command with a success reply echoing its nonce.
func (p *peer) ack(cmd map[string]any) {
	p.t.Helper()
	p.send(OpFrame, map[string]any{"cmd": cmd["cmd"], "nonce": cmd["nonce"]})
}

// connect runs Connect against a peer that accepts the handshake.
func connect(t *testing.T) (*Client, *peer) {
	t.Helper()
	c, p := pipeClient(t)
	done := make(chan error, 1)
	go func() { done <- c.Connect(t.Context()) }()
	p.ready()
	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c, p
}

// ///////////////////////////////////////////////
// Connect
// ///////////////////////////////////////////////

func TestClient_Connect_Handshake(t *testing.T) {
	c, p := pipeClient(t)

	done := make(chan error, 1)
	go func() { done <- c.Connect(t.Context()) }()

	op, m := p.read()
	if op != OpHandshake {
		t.Fatalf("opcode = %d, want OpHandshake", op)
	}
	if v, _ := m["v"].(float64); v != 1 {
		t.Errorf("v = %v, want 1", m["v"])
	}
	if m["client_id"] != "test-client-id" {
		t.Errorf("client_id = %v, want test-client-id", m["client_id"])
	}
	p.send(OpFrame, map[string]any{"cmd": "DISPATCH", "evt": "READY"})

	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Error("Connected() = false after handshake")
	}
}

func TestClient_Connect_Rejected(t *testing.T) {
	c, p := pipeClient(t)

	done := make(chan error, 1)
	go func() { done <- c.Connect(t.Context()) }()

	p.read()
	p.send(OpFrame, map[string]any{"evt": "ERROR", "data": map[string]any{"code": 4000, "message": "Invalid Client ID"}})

	err := <-done
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if c.Connected() {
		t.Error("Connected() = true after rejected handshake")
	}
}

func TestClient_Connect_DialError(t *testing.T) {
	c := NewClient("id", WithDialer(func(context.Context) (net.Conn, error) {
		return nil, ErrIPCNotAvailable
	}))
	if err := c.Connect(t.Context()); !errors.Is(err, ErrIPCNotAvailable) {
		t.Fatalf("err = %v, want ErrIPCNotAvailable", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after dial failure")
	}
}

func TestClient_Connect_Timeout(t *testing.T) {
	c, p := pipeClient(t)
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	// Drain the handshake but never answer.
	go func() { _, _ = ReadFrame(p.conn) }()

	err := c.Connect(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after timed out handshake")
	}
}

// ///////////////////////////////////////////////
// SetActivity / ClearActivity
// ///////////////////////////////////////////////

func TestClient_SetActivity(t *testing.T) {
	c, p := connect(t)

	activity := &Activity{
		Details:    "Team Fortress 2",
		State:      "Playing on Linux using Proton",
		Timestamps: &Timestamps{Start: 1700000000},
		Assets:     &Assets{LargeImage: "https://cdn.example/440.jpg", LargeText: "Team Fortress 2"},
	}

	done := make(chan error, 1)
	go func() { done <- c.SetActivity(t.Context(), activity) }()

	op, m := p.read()
	if op != OpFrame {
		t.Fatalf("opcode = %d, want OpFrame", op)
	}
	if m["cmd"] != "SET_ACTIVITY" {
		t.Errorf("cmd = %v, want SET_ACTIVITY", m["cmd"])
	}
	if nonce, _ := m["nonce"].(string); nonce == "" {
		t.Errorf("nonce = %v, want non-empty", m["nonce"])
	}
	args := m["args"].(map[string]any)
	if pid, _ := args["pid"].(float64); int(pid) != os.Getpid() {
		t.Errorf("pid = %v, want %d", args["pid"], os.Getpid())
	}
	act := args["activity"].(map[string]any)
	if act["details"] != "Team Fortress 2" || act["state"] != "Playing on Linux using Proton" {
		t.Errorf("activity text = %v / %v", act["details"], act["state"])
	}
	ts := act["timestamps"].(map[string]any)
	if start, _ := ts["start"].(float64); start != 1700000000 {
		t.Errorf("timestamps.start = %v", ts["start"])
	}
	p.ack(m)

	if err := <-done; err != nil {
		t.Fatalf("SetActivity: %v", err)
	}
}

func TestClient_ClearActivity(t *testing.T) {
	c, p := connect(t)

	done := make(chan error, 1)
	go func() { done <- c.ClearActivity(t.Context()) }()

	_, m := p.read()
	args := m["args"].(map[string]any)
	if act, present := args["activity"]; !present || act != nil {
		t.Errorf("activity = %v (present=%v), want explicit null", act, present)
	}
	p.ack(m)

	if err := <-done; err != nil {
		t.Fatalf("ClearActivity: %v", err)
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient("id")
	if err := c.SetActivity(t.Context(), &Activity{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetActivity err = %v, want ErrNotConnected", err)
	}
	if err := c.ClearActivity(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ClearActivity err = %v, want ErrNotConnected", err)
	}
}

// ///////////////////////////////////////////////
// Reply Handling
// ///////////////////////////////////////////////

func TestClient_NoncesIncrease(t *testing.T) {
	c, p := connect(t)

	var nonces []string
	for range 3 {
		done := make(chan error, 1)
		go func() { done <- c.ClearActivity(t.Context()) }()
		_, m := p.read()
		nonces = append(nonces, m["nonce"].(string))
		p.ack(m)
		if err := <-done; err != nil {
			t.Fatalf("ClearActivity: %v", err)
		}
	}
	want := []string{"1", "2", "3"}
	for i := range want {
		if nonces[i] != want[i] {
			t.Errorf("nonce[%d] = %q, want %q", i, nonces[i], want[i])
		}
	}
}

func TestClient_SkipsUnrelatedFrames(t *testing.T) {
	c, p := connect(t)

	done := make(chan error, 1)
	go func() { done <- c.ClearActivity(t.Context()) }()

	_, m := p.read()
	p.send(OpFrame, map[string]any{"cmd": "DISPATCH", "evt": "ACTIVITY_JOIN"})
	p.send(OpFrame, map[string]any{"cmd": "SET_ACTIVITY", "nonce": "stale"})
	p.send(OpPing, map[string]any{"n": 1})
	if op, _ := p.read(); op != OpPong {
		t.Errorf("reply to ping = %d, want OpPong", op)
	}
	p.ack(m)

	if err := <-done; err != nil {
		t.Fatalf("ClearActivity: %v", err)
	}
}

func TestClient_CommandRejectedKeepsConnection(t *testing.T) {
	c, p := connect(t)

	done := make(chan error, 1)
	go func() { done <- c.SetActivity(t.Context(), &Activity{Details: "x"}) }()

	_, m := p.read()
	p.send(OpFrame, map[string]any{
		"cmd": "SET_ACTIVITY", "evt": "ERROR", "nonce": m["nonce"],
		"data": map[string]any{"code": 4000, "message": "child \"activity\" fails"},
	})

	if err := <-done; !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("err = %v, want ErrCommandRejected", err)
	}
	if !c.Connected() {
		t.Error("Connected() = false after a rejected command")
	}
}

func TestClient_CloseFrameDisconnects(t *testing.T) {
	c, p := connect(t)

	done := make(chan error, 1)
	go func() { done <- c.ClearActivity(t.Context()) }()

	p.read()
	p.send(OpClose, map[string]any{"code": 1000, "message": "bye"})

	if err := <-done; !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("err = %v, want ErrConnectionClosed", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after close frame")
	}
}

func TestClient_BrokenPipeDisconnects(t *testing.T) {
	c, p := connect(t)
	p.conn.Close()

	if err := c.SetActivity(t.Context(), &Activity{Details: "x"}); err == nil {
		t.Fatal("expected write error")
	}
	if c.Connected() {
		t.Error("Connected() = true after write failure")
	}
}

func TestClient_CancelUnblocksCommand(t *testing.T) {
	c, p := connect(t)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- c.ClearActivity(ctx) }()

	p.read()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ClearActivity did not return after cancel")
	}
	if c.Connected() {
		t.Error("Connected() = true after abandoned command")
	}
}

// ///////////////////////////////////////////////
// Close
// ///////////////////////////////////////////////

func TestClient_Close(t *testing.T) {
	c, _ := connect(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
