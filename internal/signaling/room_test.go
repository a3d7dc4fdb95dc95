package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/beamdrop/engine/internal/logging"
)

func dialRoom(t *testing.T, url string) (*websocket.Conn, Envelope) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var tok Envelope
	require.NoError(t, conn.ReadJSON(&tok))
	require.Equal(t, TypeToken, tok.Type)
	require.NotEmpty(t, tok.Token)
	return conn, tok
}

func TestRoomIssuesTokenOnConnect(t *testing.T) {
	room := NewRoom(logging.Nop())
	srv := httptest.NewServer(http.HandlerFunc(room.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, tok := dialRoom(t, wsURL)
	require.Len(t, tok.Token, 8)
}

func TestRoomForwardsConnectAcceptOfferAnswer(t *testing.T) {
	room := NewRoom(logging.Nop())
	srv := httptest.NewServer(http.HandlerFunc(room.ServeWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	alice, aliceTok := dialRoom(t, wsURL)
	bob, bobTok := dialRoom(t, wsURL)
	require.Eventually(t, func() bool { return room.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(Envelope{Type: TypeConnect, PeerToken: bobTok.Token}))

	var req Envelope
	require.NoError(t, bob.ReadJSON(&req))
	require.Equal(t, TypeRequest, req.Type)
	require.Equal(t, aliceTok.Token, req.Token)

	require.NoError(t, bob.WriteJSON(Envelope{Type: TypeAccept, PeerToken: aliceTok.Token}))
	var accepted Envelope
	require.NoError(t, alice.ReadJSON(&accepted))
	require.Equal(t, TypeAccepted, accepted.Type)
	require.Equal(t, bobTok.Token, accepted.Token)

	require.NoError(t, alice.WriteJSON(Envelope{Type: TypeOffer, PeerToken: bobTok.Token, SDP: "offer-sdp"}))
	var offer Envelope
	require.NoError(t, bob.ReadJSON(&offer))
	require.Equal(t, TypeOffer, offer.Type)
	require.Equal(t, "offer-sdp", offer.SDP)

	require.NoError(t, bob.WriteJSON(Envelope{Type: TypeAnswer, PeerToken: aliceTok.Token, SDP: "answer-sdp"}))
	var answer Envelope
	require.NoError(t, alice.ReadJSON(&answer))
	require.Equal(t, TypeAnswer, answer.Type)
	require.Equal(t, "answer-sdp", answer.SDP)
}

func TestRoomRejectForwarded(t *testing.T) {
	room := NewRoom(logging.Nop())
	srv := httptest.NewServer(http.HandlerFunc(room.ServeWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	alice, aliceTok := dialRoom(t, wsURL)
	bob, bobTok := dialRoom(t, wsURL)

	require.NoError(t, alice.WriteJSON(Envelope{Type: TypeConnect, PeerToken: bobTok.Token}))
	var req Envelope
	require.NoError(t, bob.ReadJSON(&req))

	require.NoError(t, bob.WriteJSON(Envelope{Type: TypeReject, PeerToken: aliceTok.Token}))
	var rejected Envelope
	require.NoError(t, alice.ReadJSON(&rejected))
	require.Equal(t, TypeRejected, rejected.Type)
}

func TestRoomClientCountDropsOnDisconnect(t *testing.T) {
	room := NewRoom(logging.Nop())
	srv := httptest.NewServer(http.HandlerFunc(room.ServeWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _ := dialRoom(t, wsURL)
	require.Eventually(t, func() bool { return room.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return room.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
