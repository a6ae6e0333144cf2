package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/wsrelay/internal/message"
)

const readTimeout = 2 * time.Second

// newTestServer starts a relay behind httptest. mutate may adjust the default config.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := NewConfig()
	if mutate != nil {
		mutate(cfg)
	}

	relay := New(*cfg, zerolog.Nop())
	ts := httptest.NewServer(relay.Routes())
	t.Cleanup(func() {
		_ = relay.Shutdown(2 * time.Second)
		ts.Close()
	})
	return relay, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// dialRaw performs the handshake and returns the connection and response status.
func dialRaw(ts *httptest.Server, protocols []string, header http.Header) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     protocols,
	}
	conn, resp, err := dialer.Dial(wsURL(ts), header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// dial connects with the default subprotocol and fails the test on error.
func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, _, err := dialRaw(ts, []string{defaultSubprotocol}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialWithID connects in envelope mode and consumes the identity announcement.
func dialWithID(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()

	conn := dial(t, ts)
	env := readEnvelope(t, conn)
	require.Equal(t, message.TypeID, env.Type)
	require.NotEmpty(t, env.ClientKey)
	return conn, env.ClientKey
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return data
}

func readEnvelope(t *testing.T, conn *websocket.Conn) message.Envelope {
	t.Helper()

	var env message.Envelope
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &env))
	return env
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// expectNoMessage asserts nothing arrives within d. The connection cannot be
// read from afterwards, so call it last.
func expectNoMessage(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message %q", data)
}

func waitForClients(t *testing.T, relay *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return relay.Registry().Count() == n },
		readTimeout, 10*time.Millisecond, "expected %d registered clients", n)
}
