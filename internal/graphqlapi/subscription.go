package graphqlapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"relaycast/internal/store"
)

// subscriptionUpgrader accepts every origin: origin checking is left to
// the reverse proxy terminating TLS in front of this process, the same
// trust model the rest of the HTTP surface assumes.
var subscriptionUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const subscriptionPingInterval = 20 * time.Second

// subscriptionEnvelope is the single message shape pushed to a subscriber:
// the full current document on initial connect and on every change,
// rather than a diff/patch stream.
type subscriptionEnvelope struct {
	Version   uint64      `json:"version"`
	Restreams interface{} `json:"restreams"`
	Settings  interface{} `json:"settings"`
}

// NewSubscriptionHandler upgrades to a websocket connection and streams
// store snapshots to the client, one subscriber per connection, until the
// client disconnects.
func NewSubscriptionHandler(s *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := subscriptionUpgrader.Upgrade(w, r, nil)
		if err != nil {
			if logger != nil {
				logger.Warn("subscription upgrade failed", "error", err)
			}
			return
		}
		serveSubscription(r, conn, s, logger)
	})
}

func serveSubscription(r *http.Request, conn *websocket.Conn, s *store.Store, logger *slog.Logger) {
	defer conn.Close()

	ctx := r.Context()
	sub := s.Subscribe(ctx)
	defer sub.Close()

	go drainClientReads(conn)

	ticker := time.NewTicker(subscriptionPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			envelope := subscriptionEnvelope{
				Version:   snap.Version,
				Restreams: snap.Document.Restreams,
				Settings:  snap.Document.Settings,
			}
			if err := conn.WriteJSON(envelope); err != nil {
				if logger != nil {
					logger.Debug("subscription write failed, closing", "error", err)
				}
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// drainClientReads discards inbound frames so gorilla/websocket's
// control-frame handling (ping/pong, close) keeps running; this transport is
// server-push only and expects no client messages.
func drainClientReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
