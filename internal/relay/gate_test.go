package relay

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/commune-io/relay/internal/auth/jwt"
	"github.com/commune-io/relay/internal/common/cnst"
	"github.com/commune-io/relay/internal/common/config"
	"github.com/commune-io/relay/internal/storage"
	"github.com/commune-io/relay/pkg/metrics"
)

type gateFixture struct {
	wsURL    string
	verifier *jwt.Service
	sessions *storage.MemorySessionStore
	notifs   *storage.MemoryNotificationStore
	hub      *Hub
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	verifier, err := jwt.NewService(pubPEM, privPEM)
	require.NoError(t, err)

	sessions := storage.NewMemorySessionStore(logger)
	notifs := storage.NewMemoryNotificationStore(logger)
	m := metrics.New(config.MetricsConfig{Namespace: "relay"})
	hub := NewHub(logger, NewRegistry(logger), sessions, notifs, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Run(ctx))

	gate := NewGate(logger, verifier, hub, m)
	r := gin.New()
	r.GET("/ws", gate.Handler())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &gateFixture{
		wsURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		verifier: verifier,
		sessions: sessions,
		notifs:   notifs,
		hub:      hub,
	}
}

// readEvent reads frames until one with the wanted tag arrives.
func readEvent(t *testing.T, ws *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, ws.SetReadDeadline(deadline))
	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, ws.ReadJSON(&frame))
		if frame.Event == want {
			return frame.Data
		}
	}
}

func TestGate_MissingAuthorizationRefused(t *testing.T) {
	f := newGateFixture(t)

	ws, resp, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	assert.Nil(t, ws)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "require authorization header")
	assert.Equal(t, 0, f.hub.Registry().Size())
}

func TestGate_InvalidTokenRefused(t *testing.T) {
	f := newGateFixture(t)

	header := http.Header{"Authorization": []string{"Bearer not-a-token"}}
	ws, resp, err := websocket.DefaultDialer.Dial(f.wsURL, header)
	assert.Nil(t, ws)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// the verifier's rejection reason is attached to the refusal
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), jwt.ErrInvalidToken.Error())
	assert.Equal(t, 0, f.hub.Registry().Size())
}

func TestGate_ConnectRegisterDisconnect(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sessions.Create(ctx, &storage.Session{ID: "s1", UID: "u1"}))
	token, err := f.verifier.GenerateToken("s1", "u1", time.Hour)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL, header)
	require.NoError(t, err)

	// registered and bound to the persisted session
	require.Eventually(t, func() bool {
		return len(f.hub.Registry().LookupByUID("u1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SocketID)

	// closing the client connection unregisters and unbinds
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return f.hub.Registry().Size() == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		sess, err := f.sessions.Get(ctx, "s1")
		return err == nil && sess.SocketID == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGate_NotificationDeliveredToRecipient(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sessions.Create(ctx, &storage.Session{ID: "s1", UID: "u1"}))
	token, err := f.verifier.GenerateToken("s1", "u1", time.Hour)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL, header)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return f.hub.Registry().Size() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.notifs.Create(ctx, &storage.Notification{
		Message:    "you were mentioned",
		Recipients: []string{"u1"},
		Priority:   1,
	}))

	data := readEvent(t, ws, cnst.EventNotification)
	var n storage.Notification
	require.NoError(t, json.Unmarshal(data, &n))
	assert.Equal(t, "you were mentioned", n.Message)
	assert.Equal(t, []string{"u1"}, n.Recipients)
}

func TestGate_SessionChangeBroadcastOverWire(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sessions.Create(ctx, &storage.Session{ID: "s1", UID: "u1"}))
	token, err := f.verifier.GenerateToken("s1", "u1", time.Hour)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL, header)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return f.hub.Registry().Size() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// a status change made elsewhere reaches connected clients
	_, err = f.sessions.UpdateStatus(ctx, "s1", "away")
	require.NoError(t, err)

	for {
		data := readEvent(t, ws, cnst.EventSessionChange)
		var change SessionChange
		require.NoError(t, json.Unmarshal(data, &change))
		// the connect itself also produces an update; wait for the
		// status change
		if change.Status == "away" {
			assert.Equal(t, "u1", change.UID)
			assert.Equal(t, cnst.ChangeTypeUpdate, change.ChangeType)
			return
		}
	}
}
