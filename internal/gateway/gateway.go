// Package gateway exposes the dashboard over HTTP: the three WebSocket
// endpoints (control, terminal, file transfer), the login endpoint, and
// a health check.
package gateway

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boardwatch/boardwatch/internal/auth"
	"github.com/boardwatch/boardwatch/internal/common/logger"
	"github.com/boardwatch/boardwatch/internal/session"
	"github.com/boardwatch/boardwatch/internal/terminal"
	"github.com/boardwatch/boardwatch/internal/transfer"
)

// maxLoginBody bounds the password read from the login request body.
const maxLoginBody = 4096

// upgrader is shared by all three WebSocket endpoints. Buffer sizes are
// sized for terminal traffic, the chattiest of the three.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// Gateway wires the connection handlers into gin routes.
type Gateway struct {
	guard  *auth.Guard
	router *session.Router
	bridge *terminal.Bridge
	files  *transfer.Handler
	log    *logger.Logger
}

// New creates a Gateway for the given handlers.
func New(guard *auth.Guard, router *session.Router, bridge *terminal.Bridge, files *transfer.Handler, log *logger.Logger) *Gateway {
	return &Gateway{
		guard:  guard,
		router: router,
		bridge: bridge,
		files:  files,
		log:    log.WithComponent("gateway"),
	}
}

// SetupRoutes registers all endpoints on the engine.
func (g *Gateway) SetupRoutes(r *gin.Engine) {
	r.GET("/ws", g.handleControl)
	r.GET("/ws/term", g.handleTerminal)
	r.GET("/ws/file", g.handleFile)
	r.POST("/login", g.handleLogin)
	r.GET("/health", g.handleHealth)
}

func (g *Gateway) handleControl(c *gin.Context) {
	conn := g.upgrade(c)
	if conn == nil {
		return
	}
	defer conn.Close()
	g.router.Run(conn)
}

func (g *Gateway) handleTerminal(c *gin.Context) {
	conn := g.upgrade(c)
	if conn == nil {
		return
	}
	defer conn.Close()
	g.bridge.Run(conn)
}

func (g *Gateway) handleFile(c *gin.Context) {
	conn := g.upgrade(c)
	if conn == nil {
		return
	}
	defer conn.Close()
	g.files.Run(conn)
}

func (g *Gateway) upgrade(c *gin.Context) *websocket.Conn {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		g.log.Warn("websocket upgrade failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Error(err))
		return nil
	}
	return conn
}

// handleLogin exchanges the password (raw request body) for a token.
// When password protection is disabled the client is told no login is
// needed.
func (g *Gateway) handleLogin(c *gin.Context) {
	if !g.guard.Enabled() {
		c.String(http.StatusOK, "No login needed")
		return
	}
	password, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLoginBody))
	if err != nil {
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}
	token, err := g.guard.Login(password)
	if err != nil {
		g.log.Warn("login rejected", zap.String("remote_addr", c.Request.RemoteAddr))
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}
	c.String(http.StatusOK, token)
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "boardwatch",
	})
}
