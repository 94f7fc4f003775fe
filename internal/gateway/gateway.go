// Package gateway is the websocket front door: it authenticates the
// handshake, registers the connection in presence and runs one reader and
// one writer goroutine per connection.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/auth"
	"github.com/lalith-99/pressroom/internal/chat"
	"github.com/lalith-99/pressroom/internal/config"
	"github.com/lalith-99/pressroom/internal/metrics"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/presence"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Resolver authenticates a bearer token. *auth.Authenticator implements it.
type Resolver interface {
	Resolve(ctx context.Context, token string) (models.Principal, *auth.Claims, error)
}

type Gateway struct {
	resolver Resolver
	presence *presence.Registry
	chat     *chat.Service
	cfg      config.WSConfig
	upgrader websocket.Upgrader
	validate *validator.Validate
	logger   *zap.Logger

	pongWait   time.Duration
	pingPeriod time.Duration
}

func New(resolver Resolver, reg *presence.Registry, chatSvc *chat.Service, cfg config.WSConfig, logger *zap.Logger) *Gateway {
	g := &Gateway{
		resolver:   resolver,
		presence:   reg,
		chat:       chatSvc,
		cfg:        cfg,
		validate:   validator.New(),
		logger:     logger,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      g.checkOrigin,
	}
	return g
}

// checkOrigin admits requests without an Origin header (native apps,
// server-to-server) and browsers whose origin host is allow-listed.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, host) {
			return true
		}
	}
	return false
}

// tokenFrom reads the token from ?token= (browsers cannot set headers on a
// websocket request) or from a Bearer header.
func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Handshake resolves the principal behind token within the configured
// timeout. Any failure, including the timeout, is an auth error.
func (g *Gateway) Handshake(ctx context.Context, token string) (models.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.HandshakeTimeout)
	defer cancel()

	p, _, err := g.resolver.Resolve(ctx, token)
	if ctx.Err() != nil {
		return models.Principal{}, apperr.Auth("handshake timed out")
	}
	if err != nil {
		return models.Principal{}, err
	}
	return p, nil
}

// Handle serves GET /v1/ws. Authentication happens before the upgrade so a
// rejected client gets a plain 401 and never shows up in presence.
func (g *Gateway) Handle(c *gin.Context) {
	p, err := g.Handshake(c.Request.Context(), tokenFrom(c.Request))
	if err != nil {
		metrics.Handshakes.WithLabelValues("rejected").Inc()
		g.logger.Info("websocket handshake rejected",
			zap.String("remote_addr", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.Public(err)})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		metrics.Handshakes.WithLabelValues("upgrade_failed").Inc()
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.Handshakes.WithLabelValues("ok").Inc()

	conn := presence.NewConn(p, g.cfg.SendBuffer)
	g.presence.Register(conn)

	s := &session{
		gw:   g,
		ws:   ws,
		conn: conn,
		log: g.logger.With(
			zap.String("conn_id", conn.ID()),
			zap.String("user_id", p.ID.String()),
			zap.String("role", string(p.Role)),
		),
	}
	s.log.Info("websocket connected")

	go s.writePump()
	s.readPump(c.Request.Context())
}

// JoinScope adds an order room to conn after checking the principal may
// see that order.
func (g *Gateway) JoinScope(ctx context.Context, conn *presence.Conn, scope models.Scope) error {
	if scope.Kind != models.ScopeOrder {
		return apperr.Validation("only order scopes can be joined, got %s", scope.Kind)
	}
	if err := g.chat.Authorize(ctx, conn.Principal(), scope); err != nil {
		return err
	}
	return g.presence.Join(conn, scope)
}

func (g *Gateway) LeaveScope(conn *presence.Conn, scope models.Scope) error {
	return g.presence.Leave(conn, scope)
}

// Disconnect removes conn from presence and closes it. Stored data is not
// touched. Safe to call more than once.
func (g *Gateway) Disconnect(conn *presence.Conn) {
	g.presence.Unregister(conn)
	conn.Close()
}

// Shutdown closes every live connection. Each writer sends a close frame
// and each reader then unregisters its connection.
func (g *Gateway) Shutdown() {
	for _, c := range g.presence.All() {
		c.Close()
	}
}
