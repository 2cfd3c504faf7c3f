package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("use of closed connection")

type readResult struct {
	messageType int
	data        []byte
	err         error
}

// mockConn implements wsConnection for session tests. Reads are fed through
// the inbound channel; writes are recorded.
type mockConn struct {
	inbound chan readResult

	mu        sync.Mutex
	writes    [][]byte
	failWrite bool
	readLimit int64

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan readResult, 128),
		closeCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-m.inbound:
		return r.messageType, r.data, r.err
	case <-m.closeCh:
		return 0, nil, errConnClosed
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errConnClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.writes = append(m.writes, buf)
	return nil
}

func (m *mockConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closeCh) })
	return nil
}

func (m *mockConn) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func (m *mockConn) feedText(payload string) {
	m.inbound <- readResult{messageType: websocket.TextMessage, data: []byte(payload)}
}

func (m *mockConn) feedBinary(payload []byte) {
	m.inbound <- readResult{messageType: websocket.BinaryMessage, data: payload}
}

func (m *mockConn) feedError() {
	m.inbound <- readResult{err: errConnClosed}
}

func (m *mockConn) setFailWrite(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = fail
}

func (m *mockConn) writtenFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closeCh:
		return true
	default:
		return false
	}
}

func (m *mockConn) getReadLimit() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLimit
}
