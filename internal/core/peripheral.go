package core

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/microscope-data/scope.report/internal/monitoring"
)

var ErrPortWriteFailed = fmt.Errorf("failed to write to peripheral port")

// PeripheralMux multiplexes a single serial-attached peripheral controller
// across multiple clients: any number of subscribers receive the lines the
// controller emits, and commands from concurrent callers are serialized
// onto the port.
type PeripheralMux[T PeripheralPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// Peripheral is the interface a Core uses to talk to an attached
// controller.
type Peripheral interface {
	// Subscribe creates a channel receiving each line the controller
	// emits. The returned ID identifies the channel for Unsubscribe.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one command line to the controller.
	SendCommand(string) error
	// Monitor reads controller output and fans it out to subscribers
	// until the context is canceled or the port closes.
	Monitor(context.Context) error
	Close() error

	// Initialize puts the controller into the reporting mode the rest of
	// the system expects.
	Initialize() error

	// AttachAdminRoutes attaches debugging endpoints under /debug/ for
	// sending raw commands and tailing controller output.
	AttachAdminRoutes(*http.ServeMux)
}

// NewPeripheralMux wraps an open peripheral port.
func NewPeripheralMux[T PeripheralPorter](port T) *PeripheralMux[T] {
	return &PeripheralMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// subscriptionID generates a random channel ID (8 byte random hex encoded
// value).
func subscriptionID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (p *PeripheralMux[T]) Subscribe() (string, chan string) {
	id := subscriptionID()
	ch := make(chan string)
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	p.subscribers[id] = ch
	return id, ch
}

func (p *PeripheralMux[T]) Unsubscribe(id string) {
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	if ch, ok := p.subscribers[id]; ok {
		close(ch)
		delete(p.subscribers, id)
	}
}

// Initialize configures the controller for use: verbose ASCII replies, one
// report per state change, and motors enabled.
func (p *PeripheralMux[T]) Initialize() error {
	for _, command := range []string{
		"VB 1", // verbose replies so every command is acknowledged
		"RM 1", // report position/state changes as they happen
		"MC 1", // motor control on
	} {
		if err := p.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send init command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand sends one command line to the controller, appending the line
// terminator if missing.
func (p *PeripheralMux[T]) SendCommand(command string) error {
	p.commandMu.Lock()
	defer p.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := p.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrPortWriteFailed
	}
	return nil
}

// Monitor reads lines from the controller and delivers them to all
// subscribers. Slow subscribers miss lines rather than stalling the reader.
func (p *PeripheralMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(p.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs in its own goroutine so the outer loop
	// can still observe context cancellation
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			p.closingMu.Lock()
			if p.closing {
				p.closingMu.Unlock()
				return nil
			}
			p.closingMu.Unlock()

			p.subscriberMu.Lock()
			for _, ch := range p.subscribers {
				select {
				case ch <- line:
				default:
				}
			}
			p.subscriberMu.Unlock()
		}
	}
}

func (p *PeripheralMux[T]) Close() error {
	p.closingMu.Lock()
	p.closing = true
	p.closingMu.Unlock()

	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
	return p.port.Close()
}

// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
// mux served at /debug/. These routes are accessible only over
// localhost and are not publicly accessible.
func (p *PeripheralMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("send-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := p.SendCommand(command); err != nil {
			monitoring.Logf("core: admin send-command failed: %v", err)
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to peripheral port", command))
	})

	// Server-Sent Events tail of lines coming from the controller.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := p.Subscribe()
		defer p.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
