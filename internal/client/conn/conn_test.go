package conn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/logging"
	"github.com/askarin/cryptboard/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// fakeServer accepts websocket connections and hands each one to handle.
type fakeServer struct {
	t      *testing.T
	srv    *httptest.Server
	joins  chan protocol.JoinPayload
	dialed atomic.Int32
}

func newFakeServer(t *testing.T, handle func(n int, ws *websocket.Conn, join protocol.JoinPayload)) *fakeServer {
	t.Helper()

	f := &fakeServer{
		t:     t,
		joins: make(chan protocol.JoinPayload, 8),
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := int(f.dialed.Add(1))

		var msg protocol.Message
		if err := ws.ReadJSON(&msg); err != nil {
			ws.Close()
			return
		}
		var join protocol.JoinPayload
		if err := json.Unmarshal(msg.Payload, &join); err != nil {
			ws.Close()
			return
		}
		f.joins <- join

		handle(n, ws, join)
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeServer) url() string {
	return "ws://" + strings.TrimPrefix(f.srv.URL, "http://")
}

func accept(ws *websocket.Conn, token string, contents []protocol.ContentMeta) {
	msg, _ := protocol.New(protocol.TypeJoined, protocol.JoinedPayload{
		Accepted:    true,
		ChunkSize:   4,
		ResumeToken: token,
		Contents:    contents,
	})
	_ = ws.WriteJSON(msg)
}

// holdOpen keeps the server side alive until the peer closes the socket.
func holdOpen(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func reject(ws *websocket.Conn, reason string) {
	msg, _ := protocol.New(protocol.TypeJoined, protocol.JoinedPayload{
		Accepted: false,
		Reason:   reason,
	})
	_ = ws.WriteJSON(msg)
	ws.Close()
}

func testConfig(url string) Config {
	return Config{
		URL:         url,
		SessionID:   "s1",
		Fingerprint: "fp1",
		ChunkSize:   4,
		Logger:      logging.Discard(),
	}
}

func TestDial_Handshake(t *testing.T) {
	f := newFakeServer(t, func(n int, ws *websocket.Conn, join protocol.JoinPayload) {
		accept(ws, "token-1", []protocol.ContentMeta{{ContentID: "c1", TotalChunks: 3}})
		holdOpen(ws)
	})

	c, joined, err := Dial(context.Background(), testConfig(f.url()))
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, joined.Accepted)
	assert.Equal(t, joined.ChunkSize, 4)
	require.Len(t, joined.Contents, 1)
	assert.Equal(t, joined.Contents[0].ContentID, "c1")

	join := <-f.joins
	assert.Equal(t, join.SessionID, "s1")
	assert.Equal(t, join.Fingerprint, "fp1")
	assert.Equal(t, join.ChunkSize, 4)
	assert.Empty(t, join.ResumeToken, "first join carries no resume token")
}

func TestDial_RejectedFingerprint(t *testing.T) {
	f := newFakeServer(t, func(n int, ws *websocket.Conn, join protocol.JoinPayload) {
		reject(ws, "fingerprint mismatch")
	})

	_, _, err := Dial(context.Background(), testConfig(f.url()))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAuthentication)
}

func TestDial_RejectedChunkSize(t *testing.T) {
	f := newFakeServer(t, func(n int, ws *websocket.Conn, join protocol.JoinPayload) {
		reject(ws, "chunk size mismatch")
	})

	_, _, err := Dial(context.Background(), testConfig(f.url()))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrChunkSizeMismatch)
}

func TestSendAndEvents_RoundTrip(t *testing.T) {
	f := newFakeServer(t, func(n int, ws *websocket.Conn, join protocol.JoinPayload) {
		accept(ws, "token-1", nil)

		// Echo one client message back, then push a broadcast.
		var msg protocol.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		_ = ws.WriteJSON(msg)

		announce, _ := protocol.New(protocol.TypeContentAvailable, protocol.ContentMeta{ContentID: "c9"})
		_ = ws.WriteJSON(announce)
		holdOpen(ws)
	})

	c, _, err := Dial(context.Background(), testConfig(f.url()))
	require.NoError(t, err)
	defer c.Close()

	req, err := protocol.New(protocol.TypeRequestChunk, protocol.RequestChunkPayload{ContentID: "c9", Index: 0})
	require.NoError(t, err)
	require.NoError(t, c.Send(req))

	echo := <-c.Events()
	assert.Equal(t, echo.Type, protocol.TypeRequestChunk)

	announce := <-c.Events()
	assert.Equal(t, announce.Type, protocol.TypeContentAvailable)
}

func TestReconnect_ResumeTokenAndResyncEvent(t *testing.T) {
	f := newFakeServer(t, func(n int, ws *websocket.Conn, join protocol.JoinPayload) {
		if n == 1 {
			accept(ws, "token-1", nil)
			// Drop the connection to force a reconnect.
			time.Sleep(50 * time.Millisecond)
			ws.Close()
			return
		}
		accept(ws, "token-2", []protocol.ContentMeta{{ContentID: "c2"}})
		holdOpen(ws)
	})

	c, _, err := Dial(context.Background(), testConfig(f.url()))
	require.NoError(t, err)
	defer c.Close()

	// First join has no token, the rejoin presents the issued one.
	first := <-f.joins
	assert.Empty(t, first.ResumeToken)

	select {
	case second := <-f.joins:
		assert.Equal(t, second.ResumeToken, "token-1")
	case <-time.After(5 * time.Second):
		t.Fatal("no rejoin observed")
	}

	// The fresh handshake is surfaced as a joined event for resync.
	select {
	case msg := <-c.Events():
		require.Equal(t, msg.Type, protocol.TypeJoined)
		var joined protocol.JoinedPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &joined))
		require.Len(t, joined.Contents, 1)
		assert.Equal(t, joined.Contents[0].ContentID, "c2")
	case <-time.After(5 * time.Second):
		t.Fatal("no joined event after reconnect")
	}
}

func TestSend_AfterCloseFails(t *testing.T) {
	f := newFakeServer(t, func(n int, ws *websocket.Conn, join protocol.JoinPayload) {
		accept(ws, "token-1", nil)
		holdOpen(ws)
	})

	c, _, err := Dial(context.Background(), testConfig(f.url()))
	require.NoError(t, err)
	c.Close()

	msg, err := protocol.New(protocol.TypeClearAll, struct{}{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Send(msg) != nil
	}, time.Second, 10*time.Millisecond, "send should fail once closed")
}
