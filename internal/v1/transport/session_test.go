package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moli-green/relay/internal/v1/admission"
	"github.com/moli-green/relay/internal/v1/room"
)

const testIP = "203.0.113.1"

type sessionFixture struct {
	hub  *Hub
	ctrl *admission.Controller
	reg  *room.Registry
}

func newFixture() *sessionFixture {
	ctrl := admission.NewController("")
	reg := room.NewRegistry()
	return &sessionFixture{
		hub:  NewHub(ctrl, reg),
		ctrl: ctrl,
		reg:  reg,
	}
}

// startSession admits a connection and runs a session over a mock conn.
func (f *sessionFixture) startSession(t *testing.T, conn *mockConn) *Session {
	t.Helper()
	ticket, err := f.ctrl.Admit(testIP, "")
	require.NoError(t, err)
	return f.hub.startSession(conn, ticket)
}

func recvMsg(t *testing.T, ch <-chan *room.Message) *room.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast message")
		return nil
	}
}

func decodeFrame(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	return obj
}

// waitIdentity blocks until the session's identity frame has been written.
func waitIdentity(t *testing.T, conn *mockConn) map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.writtenFrames()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	return decodeFrame(t, conn.writtenFrames()[0])
}

func TestSession_IdentityIsFirstFrame(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	defer s.shutdown()

	identity := waitIdentity(t, conn)
	assert.Equal(t, "identity", identity["type"])
	assert.Equal(t, s.ID(), identity["senderId"])
}

func TestSession_SetsReadLimit(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	defer s.shutdown()

	require.Eventually(t, func() bool {
		return conn.getReadLimit() == int64(MaxMessageSize)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_RewritesSenderID(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	defer s.shutdown()
	waitIdentity(t, conn)

	obs := s.room.Subscribe("observer")

	// Spoofed senderId must be overwritten with the server identity.
	conn.feedText(`{"senderId":"B","x":1}`)

	msg := recvMsg(t, obs)
	assert.Equal(t, s.ID(), msg.SenderID)

	obj := decodeFrame(t, msg.Payload)
	assert.Equal(t, s.ID(), obj["senderId"])
	assert.EqualValues(t, 1, obj["x"])
}

func TestSession_InsertsSenderIDWhenAbsent(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	defer s.shutdown()
	waitIdentity(t, conn)

	obs := s.room.Subscribe("observer")
	conn.feedText(`{"t":"hello"}`)

	obj := decodeFrame(t, recvMsg(t, obs).Payload)
	assert.Equal(t, "hello", obj["t"])
	assert.Equal(t, s.ID(), obj["senderId"])
}

func TestSession_DropsInvalidPayloads(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	defer s.shutdown()
	waitIdentity(t, conn)

	obs := s.room.Subscribe("observer")

	// None of these may be relayed, and none may kill the connection.
	conn.feedText(`not json at all`)
	conn.feedText(`null`)
	conn.feedText(`42`)
	conn.feedText(`"just a string"`)
	conn.feedText(`[1,2,3]`)
	conn.feedBinary([]byte{0x01, 0x02})
	conn.feedText(fmt.Sprintf(`{"pad":"%s"}`, strings.Repeat("x", MaxMessageSize)))

	// The session is still alive: a valid frame goes through next.
	conn.feedText(`{"ok":true}`)

	obj := decodeFrame(t, recvMsg(t, obs).Payload)
	assert.Equal(t, true, obj["ok"])
	assert.False(t, conn.isClosed())
}

func TestSession_SelfFilter(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	defer s.shutdown()
	waitIdentity(t, conn)

	// The session's own broadcast must not be echoed back.
	s.room.Publish(&room.Message{SenderID: s.ID(), Payload: []byte(`{"mine":true}`)})
	// A frame from a different sender must be forwarded.
	s.room.Publish(&room.Message{SenderID: "peer", Payload: []byte(`{"theirs":true}`)})

	require.Eventually(t, func() bool {
		return len(conn.writtenFrames()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	frames := conn.writtenFrames()
	// frames[0] is the identity; frames[1] must be the peer's message.
	obj := decodeFrame(t, frames[1])
	assert.Equal(t, true, obj["theirs"])
	for _, frame := range frames {
		assert.NotContains(t, string(frame), "mine")
	}
}

func TestSession_HardRateLimitDisconnects(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	waitIdentity(t, conn)

	obs := s.room.Subscribe("observer")

	// 51 frames inside one window: 10 relayed, 40 soft-dropped, the 51st
	// terminates the session.
	for i := 1; i <= 51; i++ {
		conn.feedText(fmt.Sprintf(`{"n":%d}`, i))
	}

	var got []map[string]any
	for i := 0; i < 11; i++ {
		got = append(got, decodeFrame(t, recvMsg(t, obs).Payload))
	}

	for i := 0; i < 10; i++ {
		assert.EqualValues(t, i+1, got[i]["n"], "content frame %d", i)
	}
	assert.Equal(t, "leave", got[10]["type"])
	assert.Equal(t, s.ID(), got[10]["senderId"])

	require.Eventually(t, conn.isClosed, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.ctrl.LiveSessions() == 0 && f.reg.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_PeerCloseRunsCleanup(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	waitIdentity(t, conn)

	obs := s.room.Subscribe("observer")
	require.Equal(t, int64(1), f.ctrl.LiveSessions())
	require.Equal(t, 1, f.ctrl.ConnectionsFor(testIP))

	conn.feedError()

	leave := decodeFrame(t, recvMsg(t, obs).Payload)
	assert.Equal(t, "leave", leave["type"])
	assert.Equal(t, s.ID(), leave["senderId"])

	require.Eventually(t, func() bool {
		return f.ctrl.LiveSessions() == 0 &&
			f.ctrl.ConnectionsFor(testIP) == 0 &&
			f.reg.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_WriteFailureRunsCleanup(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	waitIdentity(t, conn)

	conn.setFailWrite(true)
	s.room.Publish(&room.Message{SenderID: "peer", Payload: []byte(`{"x":1}`)})

	require.Eventually(t, func() bool {
		return f.ctrl.LiveSessions() == 0 && f.reg.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_IdentitySendFailureRunsCleanup(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	conn.setFailWrite(true)

	f.startSession(t, conn)

	require.Eventually(t, func() bool {
		return f.ctrl.LiveSessions() == 0 &&
			f.ctrl.ConnectionsFor(testIP) == 0 &&
			f.reg.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_CleanupIdempotent(t *testing.T) {
	f := newFixture()
	conn := newMockConn()
	s := f.startSession(t, conn)
	waitIdentity(t, conn)

	s.shutdown()
	require.Eventually(t, func() bool {
		return f.ctrl.LiveSessions() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// A second run must not drive counters negative or panic the wait group.
	assert.NotPanics(t, func() { s.shutdown() })
	assert.Equal(t, int64(0), f.ctrl.LiveSessions())
	assert.Equal(t, 0, f.ctrl.ConnectionsFor(testIP))
}

func TestSession_TwoMembersRelay(t *testing.T) {
	f := newFixture()
	connA, connB := newMockConn(), newMockConn()
	a := f.startSession(t, connA)
	b := f.startSession(t, connB)
	defer a.shutdown()
	defer b.shutdown()
	waitIdentity(t, connA)
	waitIdentity(t, connB)

	require.Equal(t, a.room.ID(), b.room.ID())

	connA.feedText(`{"t":"hello"}`)

	require.Eventually(t, func() bool {
		return len(connB.writtenFrames()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	obj := decodeFrame(t, connB.writtenFrames()[1])
	assert.Equal(t, "hello", obj["t"])
	assert.Equal(t, a.ID(), obj["senderId"])

	// The sender got nothing beyond its identity frame.
	assert.Len(t, connA.writtenFrames(), 1)
}
