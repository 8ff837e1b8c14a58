package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/commune-io/relay/internal/auth/jwt"
	"github.com/commune-io/relay/pkg/metrics"
)

// Gate authenticates each inbound connection attempt before the
// websocket handshake completes. A refused handshake requires the
// client to reconnect with a valid credential; there is no retry.
type Gate struct {
	logger   *zap.Logger
	verifier *jwt.Service
	hub      *Hub
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewGate creates a connection gate in front of the hub
func NewGate(logger *zap.Logger, verifier *jwt.Service, hub *Hub, m *metrics.Metrics) *Gate {
	return &Gate{
		logger:   logger.Named("relay.gate"),
		verifier: verifier,
		hub:      hub,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the gin handler performing the gated upgrade
func (g *Gate) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := c.GetHeader("Authorization")
		if bearer == "" {
			g.metrics.ConnRefused("missing_authorization")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad request, require authorization header"})
			return
		}

		claims, err := g.verifier.VerifyBearer(bearer)
		if err != nil {
			g.metrics.ConnRefused("unauthorized")
			g.logger.Warn("refusing connection", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written its error response
			g.metrics.ConnRefused("upgrade_failed")
			g.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		meta := Meta{
			SessionID: claims.SessionID(),
			UID:       claims.UID,
		}
		if claims.IssuedAt != nil {
			meta.IssuedAt = claims.IssuedAt.Time
		}
		if claims.ExpiresAt != nil {
			meta.ExpiresAt = claims.ExpiresAt.Time
		}

		g.hub.HandleConnection(ws, meta)
	}
}
