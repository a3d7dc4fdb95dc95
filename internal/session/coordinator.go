// Package session implements the Session Coordinator of spec.md §4.6:
// the state machine that owns the signaling round-trip, the WebRTC
// peer connection, and the handoff of its two data channels to the
// sender and receiver pipelines. Grounded on the teacher's
// cli/webrtc/connection.go (ConnectionState / completeConnectionSetup)
// and cli/webrtc/signaling.go (offer/answer/ICE handling), with the
// connect/accept/reject handshake lifted from cli/messaging.go.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/beamdrop/engine/internal/codec"
	"github.com/beamdrop/engine/internal/logging"
	"github.com/beamdrop/engine/internal/model"
	"github.com/beamdrop/engine/internal/receiver"
	"github.com/beamdrop/engine/internal/sender"
	"github.com/beamdrop/engine/internal/signaling"
	"github.com/beamdrop/engine/internal/transport"
)

// Config tunes the peer connection and session behavior.
type Config struct {
	ICEServers []string
	DestDir    string
	SpillDir   string
	// Registry, if non-nil, receives the Transfer Monitor gauges of
	// both pipelines so a host process can expose them on /metrics.
	Registry *prometheus.Registry
}

// Callbacks are the external interfaces of spec.md §1: onProgress,
// onChat, onIncomingRequest, onStateChange, onFileComplete. Any may be
// left nil.
type Callbacks struct {
	OnStateChange     func(model.ConnectionState)
	OnToken           func(myToken string)
	OnIncomingRequest func(peerToken string)
	OnChatMessage     func(peerToken, text string)
	OnProgress        func(model.Progress)
	OnFileComplete    func(receiver.CompletedFile)
}

// Coordinator drives exactly one peer connection at a time. New
// assigns a fresh random local ID, but role election does not compare
// IDs: the side that called Connect creates the SDP offer once the
// peer accepts, and the side that called Accept answers (see
// onAccepted).
type Coordinator struct {
	cfg    Config
	sig    *signaling.Client
	logger logging.Logger
	cb     Callbacks

	localID string

	mu          sync.Mutex
	state       model.ConnectionState
	peerToken   string
	isInitiator bool
	hasOffer    bool
	hasAnswer   bool

	pc      *webrtc.PeerConnection
	control *pionChannel
	data    *pionChannel

	send *sender.Pipeline
	recv *receiver.Pipeline
}

// New builds a Coordinator bound to an already-constructed signaling
// client and installs its signaling message handler on sig.
func New(cfg Config, sig *signaling.Client, logger logging.Logger, cb Callbacks) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Coordinator{
		cfg:     cfg,
		sig:     sig,
		logger:  logger,
		cb:      cb,
		localID: uuid.NewString(),
		state:   model.StateIdle,
	}
	sig.OnMessage(c.handleSignaling)
	return c
}

func (c *Coordinator) setState(s model.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(s)
	}
}

// State returns the current connection state.
func (c *Coordinator) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect initiates a connection to peerToken.
func (c *Coordinator) Connect(peerToken string) error {
	c.mu.Lock()
	if c.state != model.StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: already connecting or connected", model.ErrSignalingFailure)
	}
	c.peerToken = peerToken
	c.isInitiator = true
	c.mu.Unlock()

	c.setState(model.StateSignaling)
	return c.sig.Send(signaling.Envelope{Type: signaling.TypeConnect, PeerToken: peerToken})
}

// Accept accepts a pending incoming request from peerToken.
func (c *Coordinator) Accept(peerToken string) error {
	c.mu.Lock()
	if c.state != model.StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: already connecting or connected", model.ErrSignalingFailure)
	}
	c.peerToken = peerToken
	c.isInitiator = false
	c.mu.Unlock()

	c.setState(model.StateSignaling)
	return c.sig.Send(signaling.Envelope{Type: signaling.TypeAccept, PeerToken: peerToken})
}

// Reject declines a pending incoming request from peerToken.
func (c *Coordinator) Reject(peerToken string) error {
	return c.sig.Send(signaling.Envelope{Type: signaling.TypeReject, PeerToken: peerToken})
}

// Disconnect tears down the peer connection and returns to idle.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	c.control = nil
	c.data = nil
	c.send = nil
	c.recv = nil
	c.hasOffer = false
	c.hasAnswer = false
	c.peerToken = ""
	c.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
	c.setState(model.StateIdle)
}

// SendFiles submits a batch to the connected peer's sender pipeline.
func (c *Coordinator) SendFiles(ctx context.Context, files []sender.FileRequest) error {
	c.mu.Lock()
	s := c.send
	c.mu.Unlock()
	if s == nil {
		return model.ErrChannelsNotReady
	}
	return s.SendBatch(ctx, files)
}

// SendChat sends a chat envelope over the control channel.
func (c *Coordinator) SendChat(text string) error {
	c.mu.Lock()
	control := c.control
	c.mu.Unlock()
	if control == nil || !control.Ready() {
		return model.ErrChannelsNotReady
	}
	raw, err := codec.Encode(codec.Envelope{Type: codec.TypeChatMessage, Content: text})
	if err != nil {
		return fmt.Errorf("session: encode chat: %w", err)
	}
	return control.SendText(string(raw))
}

func (c *Coordinator) handleSignaling(env signaling.Envelope) {
	switch env.Type {
	case signaling.TypeToken:
		if c.cb.OnToken != nil {
			c.cb.OnToken(env.Token)
		}
	case signaling.TypeRequest:
		c.mu.Lock()
		c.peerToken = env.Token
		c.isInitiator = false
		c.mu.Unlock()
		if c.cb.OnIncomingRequest != nil {
			c.cb.OnIncomingRequest(env.Token)
		}
	case signaling.TypeAccepted:
		c.onAccepted()
	case signaling.TypeRejected:
		c.setState(model.StateFailed)
	case signaling.TypeOffer:
		c.onOffer(env)
	case signaling.TypeAnswer:
		c.onAnswer(env)
	case signaling.TypeICE:
		c.onICE(env)
	}
}

// onAccepted is delivered to the initiator once the peer has
// accepted; only the initiator creates the SDP offer (role election
// by who called Connect first — no glare is possible because the
// server only emits "accepted" to the side that sent "connect").
func (c *Coordinator) onAccepted() {
	c.setState(model.StateConnecting)
	if err := c.setupPeerConnection(); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: setup: %v", err))
		c.setState(model.StateFailed)
		return
	}

	c.mu.Lock()
	pc := c.pc
	c.hasOffer = true
	c.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		c.logger.ShowError(fmt.Sprintf("session: create offer: %v", err))
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: set local description: %v", err))
		return
	}
	sdp, err := signaling.EncodeSDP(offer.Type.String(), offer.SDP)
	if err != nil {
		c.logger.ShowError(fmt.Sprintf("session: encode offer: %v", err))
		return
	}
	c.mu.Lock()
	peerToken := c.peerToken
	c.mu.Unlock()
	if err := c.sig.Send(signaling.Envelope{Type: signaling.TypeOffer, PeerToken: peerToken, SDP: sdp}); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: send offer: %v", err))
	}
}

func (c *Coordinator) onOffer(env signaling.Envelope) {
	c.mu.Lock()
	if c.hasOffer {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.setState(model.StateConnecting)
	if err := c.setupPeerConnection(); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: setup: %v", err))
		c.setState(model.StateFailed)
		return
	}

	offer, err := decodeSDP(env.SDP)
	if err != nil {
		c.logger.ShowError(fmt.Sprintf("session: decode offer: %v", err))
		return
	}

	c.mu.Lock()
	pc := c.pc
	c.hasOffer = true
	c.mu.Unlock()

	if err := pc.SetRemoteDescription(offer); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: set remote description: %v", err))
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.logger.ShowError(fmt.Sprintf("session: create answer: %v", err))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: set local description: %v", err))
		return
	}
	sdp, err := signaling.EncodeSDP(answer.Type.String(), answer.SDP)
	if err != nil {
		c.logger.ShowError(fmt.Sprintf("session: encode answer: %v", err))
		return
	}
	c.mu.Lock()
	c.hasAnswer = true
	peerToken := c.peerToken
	c.mu.Unlock()
	if err := c.sig.Send(signaling.Envelope{Type: signaling.TypeAnswer, PeerToken: peerToken, SDP: sdp}); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: send answer: %v", err))
	}
}

func (c *Coordinator) onAnswer(env signaling.Envelope) {
	c.mu.Lock()
	pc := c.pc
	already := c.hasAnswer
	c.hasAnswer = true
	c.mu.Unlock()
	if pc == nil || already {
		return
	}
	answer, err := decodeSDP(env.SDP)
	if err != nil {
		c.logger.ShowError(fmt.Sprintf("session: decode answer: %v", err))
		return
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: set remote description: %v", err))
	}
}

func (c *Coordinator) onICE(env signaling.Envelope) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return
	}
	candidate, err := decodeICE(env.ICE)
	if err != nil {
		c.logger.ShowError(fmt.Sprintf("session: decode ICE candidate: %v", err))
		return
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		c.logger.ShowError(fmt.Sprintf("session: add ICE candidate: %v", err))
	}
}

func (c *Coordinator) setupPeerConnection() error {
	servers := make([]webrtc.ICEServer, 0, len(c.cfg.ICEServers))
	for _, url := range c.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		raw, err := encodeICE(cand.ToJSON())
		if err != nil {
			return
		}
		c.mu.Lock()
		peerToken := c.peerToken
		c.mu.Unlock()
		c.sig.Send(signaling.Envelope{Type: signaling.TypeICE, PeerToken: peerToken, ICE: raw})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.LogDebug(fmt.Sprintf("session: peer connection state: %s", state))
		switch state {
		case webrtc.PeerConnectionStateDisconnected:
			c.setState(model.StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			c.setState(model.StateFailed)
		case webrtc.PeerConnectionStateClosed:
			c.setState(model.StateDisconnected)
		}
	})

	control, data, err := negotiatedChannels(pc)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channels: %w", err)
	}

	c.mu.Lock()
	c.pc = pc
	c.control = newPionChannel(control)
	c.data = newPionChannel(data)
	c.mu.Unlock()

	c.wireChannel(control, true)
	c.wireChannel(data, false)

	return nil
}

func (c *Coordinator) wireChannel(dc *webrtc.DataChannel, isControl bool) {
	dc.OnOpen(func() {
		c.logger.LogDebug(fmt.Sprintf("session: %s channel open", dc.Label()))
		c.maybeCompleteSetup()
	})
	dc.OnClose(func() {
		c.logger.LogDebug(fmt.Sprintf("session: %s channel closed", dc.Label()))
		c.Disconnect()
	})
}

// maybeCompleteSetup builds the sender/receiver pipelines once both
// logical channels are open, per §4.6's "connected" transition.
func (c *Coordinator) maybeCompleteSetup() {
	c.mu.Lock()
	control, data := c.control, c.data
	already := c.send != nil
	c.mu.Unlock()
	if already || control == nil || data == nil || !control.Ready() || !data.Ready() {
		return
	}

	sendPipe := sender.New(control, data, c.logger,
		sender.WithProgress(c.cb.OnProgress),
		sender.WithRegistry(c.cfg.Registry),
	)
	recvPipe := receiver.New(control, data, c.cfg.DestDir, c.logger,
		receiver.WithProgress(c.cb.OnProgress),
		receiver.WithFileComplete(c.cb.OnFileComplete),
		receiver.WithSpillDir(c.cfg.SpillDir),
		receiver.WithRegistry(c.cfg.Registry),
	)

	c.mu.Lock()
	c.send = sendPipe
	c.recv = recvPipe
	c.mu.Unlock()

	data.OnMessage(func(msg transport.Message) {
		recvPipe.HandleFrame(msg.Data)
	})
	control.OnMessage(func(msg transport.Message) {
		if !msg.IsString {
			return
		}
		sendPipe.HandleControlMessage(msg.Data)
		recvPipe.HandleControlMessage(msg.Data)
		c.maybeDispatchChat(msg.Data)
	})

	c.setState(model.StateConnected)
}

// maybeDispatchChat surfaces an inbound "message" control envelope to
// OnChatMessage; every other discriminant is already handled by the
// sender/receiver pipelines above.
func (c *Coordinator) maybeDispatchChat(raw []byte) {
	env, err := codec.Decode(raw)
	if err != nil || env.Type != codec.TypeChatMessage {
		return
	}
	c.mu.Lock()
	peerToken := c.peerToken
	c.mu.Unlock()
	c.logger.ShowChat(peerToken, env.Content)
	if c.cb.OnChatMessage != nil {
		c.cb.OnChatMessage(peerToken, env.Content)
	}
}

// decodeSDP reverses signaling.EncodeSDP's nested-JSON-string shape
// into a webrtc.SessionDescription.
func decodeSDP(raw string) (webrtc.SessionDescription, error) {
	var obj struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode sdp: %w", err)
	}
	var sdpType webrtc.SDPType
	switch obj.Type {
	case webrtc.SDPTypeOffer.String():
		sdpType = webrtc.SDPTypeOffer
	case webrtc.SDPTypeAnswer.String():
		sdpType = webrtc.SDPTypeAnswer
	case webrtc.SDPTypePranswer.String():
		sdpType = webrtc.SDPTypePranswer
	case webrtc.SDPTypeRollback.String():
		sdpType = webrtc.SDPTypeRollback
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("decode sdp: unknown type %q", obj.Type)
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: obj.SDP}, nil
}

// encodeICE/decodeICE round-trip an ICE candidate through the
// signaling Envelope's ICE string field, the same nested-JSON shape
// EncodeSDP uses for SDP.
func encodeICE(c webrtc.ICECandidateInit) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode ice: %w", err)
	}
	return string(b), nil
}

func decodeICE(raw string) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("decode ice: %w", err)
	}
	return c, nil
}
