package signaling

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/beamdrop/engine/internal/logging"
)

// Room is the server side of the out-of-band signaling transport:
// a pub/sub hub that mints a token per connecting client and relays
// connect/accept/reject/offer/answer/ice envelopes between exactly
// two paired clients, per spec.md §1's "pub/sub room that exchanges
// JSON envelopes between exactly two endpoints". Grounded on the
// teacher's root main.go (handleConnections/handleConnect/
// handleAccept/handleReject/forwardOffer/forwardAnswer/forwardICE),
// generalized behind a type instead of package-level globals so
// cmd/beamdropd can construct more than one for tests.
type Room struct {
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*roomClient
}

type roomClient struct {
	conn      *websocket.Conn
	token     string
	peerToken string
	writeMu   sync.Mutex
}

// NewRoom builds a Room. Any origin is accepted for the upgrade, the
// same permissive CheckOrigin the teacher's server uses ("Allow all
// origins for testing") — acceptable because the room code is the
// only secret this layer trades in, not an origin-scoped session.
func NewRoom(logger logging.Logger) *Room {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Room{
		logger:  logger,
		clients: make(map[string]*roomClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades r to a WebSocket and runs the client's read loop
// until it disconnects. Wire as the /ws handler.
func (rm *Room) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := rm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rm.logger.ShowError(fmt.Sprintf("room: upgrade: %v", err))
		return
	}
	defer conn.Close()

	token := uuid.New().String()[:8]
	client := &roomClient{conn: conn, token: token}

	rm.mu.Lock()
	rm.clients[token] = client
	rm.mu.Unlock()
	defer func() {
		rm.mu.Lock()
		delete(rm.clients, token)
		rm.mu.Unlock()
	}()

	if err := client.send(Envelope{Type: TypeToken, Token: token}); err != nil {
		rm.logger.ShowError(fmt.Sprintf("room: send token: %v", err))
		return
	}
	rm.logger.LogDebug(fmt.Sprintf("room: client %s connected", token))

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			rm.logger.LogDebug(fmt.Sprintf("room: %s: read: %v", token, err))
			return
		}
		rm.dispatch(client, env)
	}
}

func (rm *Room) dispatch(client *roomClient, env Envelope) {
	switch env.Type {
	case TypeConnect:
		client.peerToken = env.PeerToken
		rm.forward(client, env.PeerToken, Envelope{Type: TypeRequest, Token: client.token})
	case TypeAccept:
		rm.forward(client, env.PeerToken, Envelope{Type: TypeAccepted, Token: client.token})
	case TypeReject:
		rm.forward(client, env.PeerToken, Envelope{Type: TypeRejected, Token: client.token})
	case TypeOffer:
		rm.forward(client, env.PeerToken, Envelope{Type: TypeOffer, Token: client.token, SDP: env.SDP})
	case TypeAnswer:
		rm.forward(client, env.PeerToken, Envelope{Type: TypeAnswer, Token: client.token, SDP: env.SDP})
	case TypeICE:
		rm.forward(client, env.PeerToken, Envelope{Type: TypeICE, Token: client.token, ICE: env.ICE})
	default:
		rm.logger.LogDebug(fmt.Sprintf("room: ignoring unknown envelope type %q", env.Type))
	}
}

// forward relays env to peerToken's client, if currently connected.
func (rm *Room) forward(from *roomClient, peerToken string, env Envelope) {
	rm.mu.Lock()
	peer, ok := rm.clients[peerToken]
	rm.mu.Unlock()
	if !ok {
		from.send(Envelope{Type: "error", SDP: "peer not found"})
		return
	}
	if err := peer.send(env); err != nil {
		rm.logger.ShowError(fmt.Sprintf("room: forward %s to %s: %v", env.Type, peerToken, err))
	}
}

// ClientCount reports how many sockets are currently registered, for
// a liveness/metrics endpoint.
func (rm *Room) ClientCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.clients)
}

func (c *roomClient) send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}
