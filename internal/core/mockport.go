package core

import (
	"io"
	"sync"
)

// MockPeripheralPort is an in-memory PeripheralPorter for tests. Reads are
// fed through FeedLine; writes accumulate and can be inspected with
// Commands.
type MockPeripheralPort struct {
	mu      sync.Mutex
	written []byte
	closed  bool

	pr *io.PipeReader
	pw *io.PipeWriter
}

func NewMockPeripheralPort() *MockPeripheralPort {
	pr, pw := io.Pipe()
	return &MockPeripheralPort{pr: pr, pw: pw}
}

func (m *MockPeripheralPort) Read(p []byte) (int, error) {
	return m.pr.Read(p)
}

func (m *MockPeripheralPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

func (m *MockPeripheralPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.pw.Close()
	m.pr.Close()
	return nil
}

// FeedLine makes the given line readable from the port, as if the
// controller had sent it. Blocks until the mux's reader consumes it.
func (m *MockPeripheralPort) FeedLine(line string) error {
	_, err := m.pw.Write([]byte(line + "\n"))
	return err
}

// Commands returns everything written to the port so far.
func (m *MockPeripheralPort) Commands() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.written)
}
