// Package session implements the dashboard's control socket: a long-lived
// WebSocket connection multiplexing the dashboard pages. A Router reads
// requests, enforces token auth, and keeps at most one page handler alive
// at a time, cancelling the previous handler and waiting for it to stop
// before starting the next.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/boardwatch/boardwatch/pkg/protocol"
)

// Conn is the subset of the WebSocket connection the session layer uses.
// *websocket.Conn satisfies it; tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Sink serializes outbound frames. It is shared by the router, the active
// page handler, and out-of-band notices; the mutex guarantees two logical
// messages never interleave mid-frame.
type Sink struct {
	mu   sync.Mutex
	conn Conn
}

// NewSink wraps a connection in a serialized writer.
func NewSink(conn Conn) *Sink {
	return &Sink{conn: conn}
}

// WriteJSON sends v as one text frame.
func (s *Sink) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.WriteText(data)
}

// WriteText sends one text frame.
func (s *Sink) WriteText(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteBinary sends one binary frame.
func (s *Sink) WriteBinary(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Kind identifies a dashboard page. The set is closed: every page the
// control socket can dispatch to has a Kind, and unknown page strings
// never produce one.
type Kind int

const (
	KindMain Kind = iota
	KindProcess
	KindSoftware
	KindManagement
	KindService
	KindBrowser
	KindLogin
)

// kindForPage maps wire page identities to page kinds.
var kindForPage = map[string]Kind{
	protocol.PageMain:       KindMain,
	protocol.PageProcess:    KindProcess,
	protocol.PageSoftware:   KindSoftware,
	protocol.PageManagement: KindManagement,
	protocol.PageService:    KindService,
	protocol.PageBrowser:    KindBrowser,
	protocol.PageLogin:      KindLogin,
}

// String returns the wire page identity for the kind.
func (k Kind) String() string {
	for page, kind := range kindForPage {
		if kind == k {
			return page
		}
	}
	return "unknown"
}

// Handler runs one page: it pushes snapshots to out and reacts to
// commands arriving on cmds until ctx is cancelled. Run must return
// promptly after cancellation; the router waits for it before starting
// the next handler.
type Handler interface {
	Run(ctx context.Context, out *Sink, cmds <-chan protocol.Request)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, out *Sink, cmds <-chan protocol.Request)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, out *Sink, cmds <-chan protocol.Request) {
	f(ctx, out, cmds)
}
