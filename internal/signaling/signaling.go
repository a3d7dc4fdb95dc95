// Package signaling implements the client side of the out-of-band
// room exchange spec.md's collaborators section calls the "signaling
// transport": a pub/sub room over which two peers trade SDP and ICE
// candidates as JSON envelopes before the secure datagram transport
// ever opens. Grounded on the teacher's cli/client.go WebSocket dial
// loop and cli/webrtc/signaling.go's SignalingMessage shape, extended
// with the connect/accept/reject handshake the teacher's server
// already implements (room.go) and a reconnect backoff the teacher
// never had.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/beamdrop/engine/internal/logging"
)

// Envelope is the single flat message shape exchanged with the room
// server, mirroring the teacher's SignalingMessage/Message structs.
type Envelope struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	PeerToken string `json:"peerToken,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	ICE       string `json:"ice,omitempty"`
}

// Signaling envelope discriminants.
const (
	TypeToken    = "token"    // server -> client: your room token
	TypeConnect  = "connect"  // client -> server: I want to pair with peerToken
	TypeRequest  = "request"  // server -> peer: someone wants to pair with you
	TypeAccept   = "accept"   // client -> server: I accept the pending request
	TypeAccepted = "accepted" // server -> initiator: peer accepted
	TypeReject   = "reject"   // client -> server: I decline the pending request
	TypeRejected = "rejected" // server -> initiator: peer declined
	TypeOffer    = "offer"
	TypeAnswer   = "answer"
	TypeICE      = "ice"
)

// Client dials the room server over WebSocket and exchanges Envelopes.
// Backoff retries cover only the initial dial of the signaling socket:
// a socket that drops after connecting is not redialed, and the peer
// connection has no resume, per spec.md's Non-goals.
type Client struct {
	url    string
	logger logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	onMsg   func(Envelope)
	closed  bool
}

// New builds a Client for the room server at url (e.g.
// "wss://host/ws").
func New(url string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{url: url, logger: logger}
}

// OnMessage installs the handler invoked for every inbound Envelope.
func (c *Client) OnMessage(f func(Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = f
}

// Dial connects with exponential backoff (cenkalti/backoff/v4), then
// starts the read loop. It blocks until the first successful
// connection or ctx is cancelled.
func (c *Client) Dial(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	var conn *websocket.Conn
	op := func() error {
		dialed, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.LogDebug(fmt.Sprintf("signaling: dial %s failed: %v", c.url, err))
			return err
		}
		conn = dialed
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("signaling: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.LogDebug(fmt.Sprintf("signaling: read error: %v", err))
			}
			return
		}

		c.mu.Lock()
		handler := c.onMsg
		c.mu.Unlock()
		if handler != nil {
			handler(env)
		}
	}
}

// Send writes one Envelope to the room server.
func (c *Client) Send(env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling: not connected")
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("signaling: send %s: %w", env.Type, err)
	}
	return nil
}

// Close shuts down the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// Envelope helper for the SDP payload, which the teacher carries as a
// JSON string nested inside another JSON string rather than a native
// object — kept identical here so the room server and both client
// roles agree on the wire shape. The matching SDP decoder and the ICE
// helpers live in internal/session.

// EncodeSDP marshals a session description for the SDP field.
func EncodeSDP(kind, sdp string) (string, error) {
	obj := struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}{Type: kind, SDP: sdp}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
