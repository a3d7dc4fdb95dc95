package session

import (
	"github.com/pion/webrtc/v3"

	"github.com/beamdrop/engine/internal/model"
	"github.com/beamdrop/engine/internal/transport"
)

// pionChannel adapts a *webrtc.DataChannel to transport.DataChannel,
// the boundary internal/sender and internal/receiver are written
// against. Grounded on the teacher's cli/webrtc.go channel handler
// wiring, generalized behind the small interface.
type pionChannel struct {
	dc *webrtc.DataChannel
}

func newPionChannel(dc *webrtc.DataChannel) *pionChannel {
	dc.SetBufferedAmountLowThreshold(model.LowWaterMark)
	return &pionChannel{dc: dc}
}

func (p *pionChannel) SendText(s string) error {
	return p.dc.SendText(s)
}

func (p *pionChannel) Send(b []byte) error {
	return p.dc.Send(b)
}

func (p *pionChannel) BufferedAmount() uint64 {
	return uint64(p.dc.BufferedAmount())
}

func (p *pionChannel) OnBufferedAmountLow(f func()) {
	p.dc.OnBufferedAmountLow(f)
}

func (p *pionChannel) OnMessage(f func(transport.Message)) {
	p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(transport.Message{IsString: msg.IsString, Data: msg.Data})
	})
}

func (p *pionChannel) Ready() bool {
	return p.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// negotiatedChannels creates both logical data channels with fixed
// negotiated IDs, the way the teacher's cli/webrtc.go does (control=1,
// data=2) rather than letting the answerer wait on OnDataChannel —
// symmetric creation means both peers run identical setup code.
//
// Unlike the teacher, MaxRetransmits is left unset: spec.md requires
// both logical channels to be fully ordered AND reliable, whereas the
// teacher's MaxRetransmits(30) makes its channels partially reliable.
func negotiatedChannels(pc *webrtc.PeerConnection) (control, data *webrtc.DataChannel, err error) {
	ordered := true
	negotiated := true
	controlID := uint16(1)
	dataID := uint16(2)

	control, err = pc.CreateDataChannel("control", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &controlID,
	})
	if err != nil {
		return nil, nil, err
	}
	data, err = pc.CreateDataChannel("data", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &dataID,
	})
	if err != nil {
		return nil, nil, err
	}
	return control, data, nil
}
