// Package authpipe implements the side-channel message pipe between the
// broker and a login helper: a length-prefixed JSON frame channel with two
// independent timeouts, one for the whole conversation and one for the gap
// between messages. It is framed the same way the reference stack frames
// its IPC connections (internal/ipc/protocol.go's 4-byte big-endian length
// prefix), minus that package's HMAC/sequence-number layer — this pipe runs
// over a socketpair handed to a child we just forked ourselves, so there is
// no second party who could inject a competing frame the way a listening
// Unix socket has to worry about.
package authpipe

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/webadmin-gateway/authbroker/internal/logging"
)

var log = logging.L("authpipe")

// MaxFrameSize bounds a single JSON frame. The wire contract only ever
// carries small login-status objects; anything bigger is a broken or
// hostile helper.
const MaxFrameSize = 256 * 1024

// Pipe is a bidirectional framed JSON channel to a helper process.
type Pipe struct {
	id   string
	conn net.Conn

	conversationTimeout time.Duration
	idleTimeout         time.Duration

	onMessage func([]byte)
	onClose   func(error)

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool

	convTimer *time.Timer
}

// newPipe wraps conn (already a connected net.Conn, typically one end of a
// unix socketpair — see NewSpawnedPipe on unix) as an authpipe.
func newPipe(id string, conn net.Conn, conversationTimeout, idleTimeout time.Duration) *Pipe {
	return &Pipe{
		id:                  id,
		conn:                conn,
		conversationTimeout: conversationTimeout,
		idleTimeout:         idleTimeout,
	}
}

// GetID returns the conversation id this pipe was tagged with at construction.
func (p *Pipe) GetID() string {
	return p.id
}

// Start begins the read loop, invoking onMessage for each complete frame and
// onClose exactly once when the pipe is closed (by EOF, error, timeout, or
// an explicit Close call). Start must be called at most once.
func (p *Pipe) Start(onMessage func([]byte), onClose func(error)) {
	p.onMessage = onMessage
	p.onClose = onClose

	p.convTimer = time.AfterFunc(p.conversationTimeout, func() {
		p.closeWithError(fmt.Errorf("authpipe: conversation timeout after %s", p.conversationTimeout))
	})

	go p.readLoop()
}

func (p *Pipe) readLoop() {
	for {
		if p.idleTimeout > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(p.idleTimeout))
		}

		frame, err := readFrame(p.conn)
		if err != nil {
			if isTimeout(err) {
				p.closeWithError(fmt.Errorf("authpipe: idle timeout after %s", p.idleTimeout))
				return
			}
			if err == io.EOF {
				p.closeWithError(nil)
				return
			}
			p.closeWithError(fmt.Errorf("authpipe: read: %w", err))
			return
		}

		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		if p.onMessage != nil {
			p.onMessage(frame)
		}
	}
}

// Answer sends a single JSON frame to the helper.
func (p *Pipe) Answer(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if len(data) > MaxFrameSize {
		return fmt.Errorf("authpipe: frame too large: %d > %d", len(data), MaxFrameSize)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	if _, err := p.conn.Write(header); err != nil {
		return fmt.Errorf("authpipe: write header: %w", err)
	}
	if _, err := p.conn.Write(data); err != nil {
		return fmt.Errorf("authpipe: write payload: %w", err)
	}
	return nil
}

// AnswerJSON marshals v and sends it as a single frame.
func (p *Pipe) AnswerJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("authpipe: marshal: %w", err)
	}
	return p.Answer(data)
}

// Close closes the pipe and invokes onClose(nil) if it has not already fired.
func (p *Pipe) Close() error {
	p.closeWithError(nil)
	return nil
}

func (p *Pipe) closeWithError(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.convTimer != nil {
		p.convTimer.Stop()
	}
	_ = p.conn.Close()

	if p.onClose != nil {
		p.onClose(err)
	}
}

func readFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return nil, nil
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("authpipe: incoming frame too large: %d > %d", length, MaxFrameSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, err
	}
	return data, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}
