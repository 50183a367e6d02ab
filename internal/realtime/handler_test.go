package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"github.com/MarcoPoloResearchLab/spotter/internal/pins"
	"github.com/gorilla/websocket"
)

type staticResolver struct {
	valid map[string]auth.SessionClaims
}

func (r staticResolver) ValidateToken(token string) (auth.SessionClaims, error) {
	claims, ok := r.valid[token]
	if !ok {
		return auth.SessionClaims{}, auth.ErrInvalidSessionToken
	}
	return claims, nil
}

type namesDirectory map[int64]string

func (d namesDirectory) Usernames(_ context.Context, ownerIDs []int64) (map[int64]string, error) {
	result := map[int64]string{}
	for _, ownerID := range ownerIDs {
		if name, ok := d[ownerID]; ok {
			result[ownerID] = name
		}
	}
	return result, nil
}

func newFeedServer(t *testing.T, hub *Hub, throttle *ConnectThrottle) *httptest.Server {
	t.Helper()
	handler, err := NewHandler(HandlerConfig{
		Hub:      hub,
		Tokens:   staticResolver{valid: map[string]auth.SessionClaims{"good": {UserID: 5, Username: "fern"}}},
		Throttle: throttle,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func dialFeed(t *testing.T, server *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/pins"
	if token != "" {
		url += "?token=" + token
	}
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	return dialer.Dial(url, nil)
}

func TestHandlerRegistersAnonymousAndInvalidTokens(t *testing.T) {
	hub, _ := startHub(t, HubConfig{Directory: namesDirectory{1: "hazel"}})
	server := newFeedServer(t, hub, nil)

	var clients []*websocket.Conn
	for _, token := range []string{"", "garbage", "good"} {
		conn, _, err := dialFeed(t, server, token)
		if err != nil {
			t.Fatalf("dial with token %q failed: %v", token, err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		clients = append(clients, conn)
	}
	waitFor(t, func() bool { return hub.Sessions() == 3 })

	hub.Publish(context.Background(), testPin(42))
	for index, client := range clients {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		messageType, payload, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("client %d read failed: %v", index, err)
		}
		if messageType != websocket.TextMessage {
			t.Fatalf("client %d expected text message, got %d", index, messageType)
		}
		var view pins.View
		if err := json.Unmarshal(payload, &view); err != nil {
			t.Fatalf("client %d received invalid json: %v", index, err)
		}
		if view.PinID != 42 || view.Username != "hazel" {
			t.Fatalf("client %d unexpected view %+v", index, view)
		}
	}

	_ = clients[0].Close()
	waitFor(t, func() bool { return hub.Sessions() == 2 })
}

func TestHandlerThrottlesConnectionsPerIP(t *testing.T) {
	hub, _ := startHub(t, HubConfig{})
	server := newFeedServer(t, hub, NewConnectThrottle(0.001, 1))

	first, _, err := dialFeed(t, server, "")
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })

	_, response, err := dialFeed(t, server, "")
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if response == nil || response.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 response, got %+v", response)
	}
}
