package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardwatch/boardwatch/internal/auth"
	"github.com/boardwatch/boardwatch/internal/common/logger"
	"github.com/boardwatch/boardwatch/pkg/protocol"
)

type inFrame struct {
	messageType int
	data        []byte
}

// fakeConn feeds scripted inbound frames to the router and records every
// outbound frame. Closing the inbound channel reads as a connection close.
type fakeConn struct {
	in chan inFrame

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan inFrame, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.in
	if !ok {
		return 0, nil, io.EOF
	}
	return f.messageType, f.data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) sendText(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- inFrame{messageType: websocket.TextMessage, data: data}
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

type staticGlobal struct{}

func (staticGlobal) Global() interface{} {
	return map[string]bool{"update": false}
}

// recordingHandler notes when it starts and stops and captures forwarded
// commands. started and stopped carry the handler's label so tests can
// assert ordering across page switches.
type recordingHandler struct {
	label   string
	started chan string
	stopped chan string
	cmds    chan protocol.Request
}

func (h *recordingHandler) Run(ctx context.Context, out *Sink, cmds <-chan protocol.Request) {
	h.started <- h.label
	defer func() { h.stopped <- h.label }()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-cmds:
			h.cmds <- req
		}
	}
}

type routerFixture struct {
	conn    *fakeConn
	router  *Router
	started chan string
	stopped chan string
	cmds    chan protocol.Request
	done    chan struct{}
}

func newRouterFixture(t *testing.T, guard *auth.Guard) *routerFixture {
	t.Helper()
	f := &routerFixture{
		conn:    newFakeConn(),
		started: make(chan string, 8),
		stopped: make(chan string, 8),
		cmds:    make(chan protocol.Request, 8),
	}
	handlers := map[Kind]Handler{}
	for kind, label := range map[Kind]string{
		KindMain:    "main",
		KindProcess: "process",
		KindBrowser: "browser",
	} {
		handlers[kind] = &recordingHandler{
			label:   label,
			started: f.started,
			stopped: f.stopped,
			cmds:    f.cmds,
		}
	}
	f.router = NewRouter(guard, staticGlobal{}, handlers, logger.Default())
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		f.router.Run(f.conn)
	}()
	return f
}

func (f *routerFixture) close(t *testing.T) {
	t.Helper()
	close(f.conn.in)
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop after connection close")
	}
}

func recv(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler event")
		return ""
	}
}

func disabledGuard() *auth.Guard {
	return auth.NewGuard(false, "", "", time.Hour)
}

func TestRouterSendsGlobalSnapshotFirst(t *testing.T) {
	f := newRouterFixture(t, disabledGuard())
	f.conn.sendText(t, protocol.Request{Page: protocol.PageMain})
	recv(t, f.started)
	f.close(t)

	frames := f.conn.frames()
	require.NotEmpty(t, frames)
	var global map[string]bool
	require.NoError(t, json.Unmarshal(frames[0], &global))
	assert.Equal(t, map[string]bool{"update": false}, global)
}

func TestRouterPageSwitchStopsPreviousHandlerFirst(t *testing.T) {
	f := newRouterFixture(t, disabledGuard())

	f.conn.sendText(t, protocol.Request{Page: protocol.PageMain})
	assert.Equal(t, "main", recv(t, f.started))

	f.conn.sendText(t, protocol.Request{Page: protocol.PageProcess})
	assert.Equal(t, "main", recv(t, f.stopped))
	assert.Equal(t, "process", recv(t, f.started))

	f.conn.sendText(t, protocol.Request{Page: protocol.PageBrowser})
	assert.Equal(t, "process", recv(t, f.stopped))
	assert.Equal(t, "browser", recv(t, f.started))

	f.close(t)
	assert.Equal(t, "browser", recv(t, f.stopped))
}

func TestRouterForwardsCommandsToActiveHandler(t *testing.T) {
	f := newRouterFixture(t, disabledGuard())

	f.conn.sendText(t, protocol.Request{Page: protocol.PageProcess})
	recv(t, f.started)

	f.conn.sendText(t, protocol.Request{Page: protocol.PageProcess, Cmd: "terminate", Args: []string{"42"}})
	select {
	case req := <-f.cmds:
		assert.Equal(t, "terminate", req.Cmd)
		assert.Equal(t, []string{"42"}, req.Args)
	case <-time.After(2 * time.Second):
		t.Fatal("command was not forwarded")
	}

	f.close(t)
}

func TestRouterDropsCommandWithoutActiveHandler(t *testing.T) {
	f := newRouterFixture(t, disabledGuard())

	f.conn.sendText(t, protocol.Request{Page: protocol.PageMain, Cmd: "kill", Args: []string{"1"}})
	// A subsequent page switch proves the router survived the dropped
	// command and is still reading.
	f.conn.sendText(t, protocol.Request{Page: protocol.PageMain})
	recv(t, f.started)

	assert.Empty(t, f.cmds)
	f.close(t)
}

func TestRouterSkipsMalformedFrames(t *testing.T) {
	f := newRouterFixture(t, disabledGuard())

	f.conn.in <- inFrame{messageType: websocket.TextMessage, data: []byte("{not json")}
	f.conn.in <- inFrame{messageType: websocket.BinaryMessage, data: []byte{0x01, 0x02}}
	f.conn.sendText(t, protocol.Request{Page: protocol.PageMain})
	assert.Equal(t, "main", recv(t, f.started))

	f.close(t)
}

func TestRouterIgnoresUnknownPage(t *testing.T) {
	f := newRouterFixture(t, disabledGuard())

	f.conn.sendText(t, protocol.Request{Page: protocol.PageMain})
	recv(t, f.started)
	f.conn.sendText(t, protocol.Request{Page: "/no-such-page"})
	f.conn.sendText(t, protocol.Request{Page: protocol.PageProcess})

	// The unknown page must not have stopped the main handler early; the
	// next stop observed belongs to the /process switch.
	assert.Equal(t, "main", recv(t, f.stopped))
	assert.Equal(t, "process", recv(t, f.started))
	f.close(t)
}

func TestRouterRejectsBadTokenWithLoginNotice(t *testing.T) {
	guard := auth.NewGuard(true, "ab", "secret", time.Hour)
	token, err := guard.Issue()
	require.NoError(t, err)

	f := newRouterFixture(t, guard)

	f.conn.sendText(t, protocol.Request{Page: protocol.PageMain, Token: token})
	assert.Equal(t, "main", recv(t, f.started))

	f.conn.sendText(t, protocol.Request{Page: protocol.PageProcess, Token: "bogus"})
	assert.Equal(t, "main", recv(t, f.stopped))

	f.close(t)

	var sawNotice bool
	for _, frame := range f.conn.frames() {
		var notice protocol.TokenError
		if json.Unmarshal(frame, &notice) == nil && notice.Error {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice, "expected a token error notice frame")
}

func TestRouterLoginPageEmitsNotice(t *testing.T) {
	f := newRouterFixture(t, disabledGuard())

	f.conn.sendText(t, protocol.Request{Page: protocol.PageLogin})
	f.conn.sendText(t, protocol.Request{Page: protocol.PageMain})
	recv(t, f.started)
	f.close(t)

	frames := f.conn.frames()
	require.GreaterOrEqual(t, len(frames), 2)
	var notice protocol.TokenError
	require.NoError(t, json.Unmarshal(frames[1], &notice))
	assert.True(t, notice.Error)
}
