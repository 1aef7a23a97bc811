package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"

	"andon/internal/models"
)

// Upgrader is the default WebSocket upgrader.
var Upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is what clients may send over the push channel.
type clientMessage struct {
	Type string `json:"type"`
}

// Authenticator resolves the request's auth session into a viewer
// identity. A failure means the connection gets authError and closes.
type Authenticator func(r *http.Request) (token string, viewer models.Viewer, err error)

// HandleWebSocket upgrades the connection, authenticates it, attaches it
// to the viewer's registry entry and services client messages until the
// peer goes away.
func HandleWebSocket(hub *Hub, authenticate Authenticator, w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	token, viewer, err := authenticate(r)
	if err != nil {
		// authError first, then the transport layer tears the connection down.
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.WriteJSON(Event{Type: EventAuthError, Payload: map[string]string{"message": err.Error()}})
		conn.Close()
		return
	}

	s := hub.Ensure(token, viewer)
	s.Attach(conn)
	log.Printf("ws: %s connected (%s)", viewer.Username, viewer.Role)

	if hub.OnRequestUpdate != nil {
		// Initial snapshot so a fresh client doesn't wait for the first transition.
		hub.OnRequestUpdate(s)
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			s.connMu.Lock()
			cur := s.conn
			var werr error
			if cur == conn {
				werr = conn.WriteControl(gws.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			s.connMu.Unlock()
			if cur != conn || werr != nil {
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Send(Event{Type: EventError, Payload: map[string]string{"message": "malformed message"}})
			continue
		}
		switch msg.Type {
		case "requestUpdate":
			if hub.OnRequestUpdate != nil {
				hub.OnRequestUpdate(s)
			}
		default:
			s.Send(Event{Type: EventError, Payload: map[string]string{"message": "unknown message type"}})
		}
	}

	s.Detach(conn)
	log.Printf("ws: %s disconnected", viewer.Username)
}
