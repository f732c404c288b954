// Package terminal bridges an interactive shell to a WebSocket
// connection. Raw PTY output travels as binary frames; the client sends
// keystrokes as frames written verbatim to the PTY, plus two text
// controls: a "token" auth frame (first frame when password protection is
// on) and "size" resize frames.
package terminal

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boardwatch/boardwatch/internal/auth"
	"github.com/boardwatch/boardwatch/internal/common/logger"
	"github.com/boardwatch/boardwatch/pkg/protocol"
)

// readChunk is the PTY read buffer size. Output is relayed in chunks of
// at most this many bytes, truncated at the first NUL.
const readChunk = 256

// Conn is the subset of the WebSocket connection the bridge uses. Close
// must unblock a concurrent ReadMessage, so the read pump can end the
// session when the shell exits under an idle client.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Pty abstracts the spawned shell: the PTY master plus process reaping.
type Pty interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
	Reap() error
}

// SpawnFunc starts the shell process. Tests substitute an in-memory fake.
type SpawnFunc func() (Pty, error)

// Bridge connects one WebSocket client to one shell process.
type Bridge struct {
	guard *auth.Guard
	spawn SpawnFunc
	log   *logger.Logger
}

// NewBridge builds a bridge spawning `/bin/login -f user` when user is
// non-empty, or the given shell otherwise.
func NewBridge(guard *auth.Guard, user, shell string, log *logger.Logger) *Bridge {
	return &Bridge{
		guard: guard,
		spawn: func() (Pty, error) { return spawnShell(user, shell) },
		log:   log.WithComponent("terminal"),
	}
}

// shellPty is the production Pty backed by creack/pty.
type shellPty struct {
	f   *os.File
	cmd *exec.Cmd
}

func (p *shellPty) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *shellPty) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *shellPty) Close() error                { return p.f.Close() }

func (p *shellPty) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *shellPty) Reap() error { return p.cmd.Wait() }

func spawnShell(user, shell string) (Pty, error) {
	var cmd *exec.Cmd
	if user != "" {
		cmd = exec.Command("/bin/login", "-f", user)
	} else {
		cmd = exec.Command(shell)
	}
	cmd.Env = append(os.Environ(), "TERM=xterm")
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return &shellPty{f: f, cmd: cmd}, nil
}

// Run drives the connection until either side ends. When password
// protection is enabled the first frame must be a text frame of
// "token" + JWT; anything else closes the connection without spawning
// a shell.
func (b *Bridge) Run(conn Conn) {
	log := b.log.WithFields(zap.String("session_id", uuid.New().String()))

	if b.guard.Enabled() && !b.readToken(conn, log) {
		return
	}

	shell, err := b.spawn()
	if err != nil {
		log.Error("shell spawn failed", zap.Error(err))
		return
	}

	s := &bridgeSession{conn: conn, shell: shell, log: log}
	s.run()
}

// readToken consumes and validates the mandatory auth frame.
func (b *Bridge) readToken(conn Conn, log *logger.Logger) bool {
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	if messageType != websocket.TextMessage {
		log.Warn("expected auth frame, got binary")
		return false
	}
	frame := string(data)
	if !strings.HasPrefix(frame, protocol.TokenPrefix) {
		log.Warn("auth frame missing token prefix")
		return false
	}
	if !b.guard.Verify(frame[len(protocol.TokenPrefix):]) {
		log.Warn("terminal token rejected")
		return false
	}
	return true
}

// bridgeSession is the per-connection state: the shell handle guarded by
// a RWMutex (pumps read-lock around I/O, teardown write-locks), and a
// stop flag each pump observes so at most one further operation happens
// after either side ends.
type bridgeSession struct {
	conn  Conn
	shell Pty
	log   *logger.Logger

	mu      sync.RWMutex
	stopped atomic.Bool
}

func (s *bridgeSession) run() {
	var g errgroup.Group
	g.Go(s.readPump)
	g.Go(s.writePump)
	if err := g.Wait(); err != nil {
		s.log.Debug("terminal pump ended", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shell.Close(); err != nil {
		s.log.Debug("pty close failed", zap.Error(err))
	}
	if err := s.shell.Reap(); err != nil {
		s.log.Warn("shell reap failed", zap.Error(err))
	}
	s.log.Info("terminal closed")
}

// readPump relays PTY output to the client as binary frames.
func (s *bridgeSession) readPump() error {
	buf := make([]byte, readChunk)
	for !s.stopped.Load() {
		s.mu.RLock()
		n, err := s.shell.Read(buf)
		s.mu.RUnlock()
		if err != nil {
			s.stopped.Store(true)
			// The write pump may be parked in ReadMessage on an idle
			// client; closing the connection is the only way to wake it.
			s.conn.Close()
			if err != io.EOF {
				return err
			}
			return nil
		}
		out := buf[:n]
		if i := bytes.IndexByte(out, 0); i >= 0 {
			out = out[:i]
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			s.stopped.Store(true)
			s.conn.Close()
			return err
		}
	}
	return nil
}

// writePump relays client frames to the PTY, interpreting "size" resize
// controls. A closed or failed connection writes a literal exit command
// so the shell terminates and the read pump drains.
func (s *bridgeSession) writePump() error {
	for !s.stopped.Load() {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.stopped.Store(true)
			s.mu.RLock()
			// Interactive shells ignore SIGTERM from here; ask politely.
			_, werr := s.shell.Write([]byte("exit\n"))
			s.mu.RUnlock()
			if werr != nil {
				s.log.Debug("exit write failed", zap.Error(werr))
			}
			return nil
		}
		if messageType == websocket.TextMessage && bytes.HasPrefix(data, []byte(protocol.ResizePrefix)) {
			s.resize(data[len(protocol.ResizePrefix):])
			continue
		}
		s.mu.RLock()
		_, err = s.shell.Write(data)
		s.mu.RUnlock()
		if err != nil {
			s.stopped.Store(true)
			return err
		}
	}
	return nil
}

func (s *bridgeSession) resize(payload []byte) {
	var size protocol.TTYSize
	if err := json.Unmarshal(payload, &size); err != nil {
		s.log.Warn("bad resize payload", zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	s.mu.RLock()
	err := s.shell.Resize(size.Cols, size.Rows)
	s.mu.RUnlock()
	if err != nil {
		s.log.Warn("pty resize failed", zap.Error(err))
	}
}
