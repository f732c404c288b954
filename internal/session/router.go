package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boardwatch/boardwatch/internal/auth"
	"github.com/boardwatch/boardwatch/internal/common/logger"
	"github.com/boardwatch/boardwatch/pkg/protocol"
)

// GlobalProvider supplies the unsolicited snapshot pushed once per
// connection before any request is processed.
type GlobalProvider interface {
	Global() interface{}
}

// Router owns one control socket connection. It decodes requests,
// enforces the auth guard, and runs at most one page handler at a time.
type Router struct {
	guard    *auth.Guard
	global   GlobalProvider
	handlers map[Kind]Handler
	log      *logger.Logger
}

// NewRouter creates a Router dispatching to the given page handlers.
func NewRouter(guard *auth.Guard, global GlobalProvider, handlers map[Kind]Handler, log *logger.Logger) *Router {
	return &Router{
		guard:    guard,
		global:   global,
		handlers: handlers,
		log:      log.WithComponent("session"),
	}
}

// active tracks the running page handler and its cancellation handshake.
// done is closed by the handler goroutine when Run has returned, so the
// router can observe termination rather than merely request it.
type active struct {
	kind   Kind
	cmds   chan protocol.Request
	cancel context.CancelFunc
	done   chan struct{}
}

// Run consumes frames until the connection closes or a send fails
// fatally. The active handler, if any, is cancelled and joined before
// Run returns.
func (r *Router) Run(conn Conn) {
	log := r.log.WithFields(zap.String("session_id", uuid.New().String()))
	sink := NewSink(conn)

	// One unsolicited global snapshot before any request is processed.
	if err := sink.WriteJSON(r.global.Global()); err != nil {
		log.Debug("global snapshot send failed", zap.Error(err))
		return
	}

	var current *active
	defer func() {
		r.stop(current)
		log.Debug("session closed")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			log.Warn("unexpected non-text frame on control socket",
				zap.Int("message_type", messageType))
			continue
		}

		req, err := protocol.ParseRequest(data)
		if err != nil {
			log.Warn("malformed request frame", zap.Error(err), zap.ByteString("frame", data))
			continue
		}

		if r.guard.Enabled() && !r.guard.Verify(req.Token) {
			// Stop the active handler first so its snapshots cannot
			// interleave with the login notice. A fresh connection has
			// nothing active and the stop is a no-op.
			r.stop(current)
			current = nil
			req = protocol.Request{Page: protocol.PageLogin}
		}

		if req.Cmd != "" {
			r.forward(current, req, log)
			continue
		}

		kind, ok := kindForPage[req.Page]
		if !ok {
			log.Debug("ignoring unknown page", zap.String("page", req.Page))
			continue
		}

		r.stop(current)
		current = nil

		if kind == KindLogin {
			if err := sink.WriteJSON(protocol.TokenError{Error: true}); err != nil {
				log.Debug("login notice send failed", zap.Error(err))
				return
			}
			continue
		}

		handler, ok := r.handlers[kind]
		if !ok {
			log.Debug("no handler for page", zap.String("page", req.Page))
			continue
		}

		log.Debug("switching page", zap.String("page", req.Page))
		current = r.start(kind, handler, sink)
	}
}

// start launches a handler with a private command channel and the
// cancellation handshake the router later observes in stop.
func (r *Router) start(kind Kind, handler Handler, sink *Sink) *active {
	ctx, cancel := context.WithCancel(context.Background())
	a := &active{
		kind:   kind,
		cmds:   make(chan protocol.Request, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(a.done)
		handler.Run(ctx, sink, a.cmds)
	}()
	return a
}

// stop cancels the handler and waits until its Run has returned. A nil
// active is a trivially satisfied wait, which also covers the very first
// page switch of a connection.
func (r *Router) stop(a *active) {
	if a == nil {
		return
	}
	a.cancel()
	<-a.done
}

// forward hands a command to the active handler. Commands sent before any
// page switch, or while a handler is shutting down, are dropped.
func (r *Router) forward(a *active, req protocol.Request, log *logger.Logger) {
	if a == nil {
		log.Debug("dropping command without active page", zap.String("cmd", req.Cmd))
		return
	}
	select {
	case a.cmds <- req:
	case <-a.done:
		log.Debug("dropping command for stopped handler",
			zap.String("page", a.kind.String()),
			zap.String("cmd", req.Cmd))
	}
}
