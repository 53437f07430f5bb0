package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"chatrelay/internal/domain"
	"chatrelay/internal/relay"
)

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractToken(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			if parts[1] != "" {
				return parts[1], nil
			}
		}
	}

	return "", domain.ErrAuth
}

// inbound is the envelope for every client-to-relay event.
type inbound struct {
	Type        string              `json:"type"`
	RoomID      int64               `json:"roomId"`
	Text        string              `json:"text"`
	Attachments []domain.Attachment `json:"attachments"`
	IsTyping    bool                `json:"isTyping"`
	ReceiverID  int64               `json:"receiverId"`
	CallID      string              `json:"callId"`
	Signal      string              `json:"signal"`
	Data        json.RawMessage     `json:"data"`
}

// MakeHandler returns the HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or
// Sec-WebSocket-Protocol), registers the connection, then dispatches events:
//   - joinRoom / leaveRoom -> room subscription
//   - sendMessage          -> persist & fan out to room subscribers
//   - typing               -> start/stop typing indicator
//   - startCall / acceptCall / callSignal / endCall -> call coordination
func MakeHandler(
	registry *relay.Registry,
	rooms *relay.Rooms,
	typing *relay.Typing,
	fanout *relay.Fanout,
	calls *relay.Calls,
	presence *relay.Presence,
	tokens domain.TokenVerifier,
	users domain.UserRepository,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractToken(r)
		if err != nil {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := tokens.Verify(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		user, err := users.GetByID(r.Context(), userID)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		// The request context carries router middleware deadlines; the
		// session outlives them, so dispatch runs on its own context.
		ctx := context.Background()

		client := newClient(wsConn)
		client.setupRead()
		go client.writePump()

		conn, first := registry.Register(user.ID, client)
		defer func() {
			registry.Unregister(conn.ID)
			client.Close()
		}()
		presence.HandleConnect(ctx, user.ID, first)

		for {
			var in inbound
			if err := wsConn.ReadJSON(&in); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("ws: read from user %d: %v", user.ID, err)
				}
				return
			}
			dispatch(ctx, conn, in, rooms, typing, fanout, calls)
		}
	}
}

func dispatch(
	ctx context.Context,
	conn *relay.Conn,
	in inbound,
	rooms *relay.Rooms,
	typing *relay.Typing,
	fanout *relay.Fanout,
	calls *relay.Calls,
) {
	switch in.Type {

	case "joinRoom":
		if in.RoomID == 0 {
			conn.Send(relay.Error("joinRoom requires roomId"))
			return
		}
		if err := rooms.Join(ctx, conn, in.RoomID); err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				conn.Send(relay.Error("not a member of this room"))
				return
			}
			log.Printf("ws: join room %d: %v", in.RoomID, err)
			conn.Send(relay.Error("failed to join room"))
		}

	case "leaveRoom":
		if in.RoomID == 0 {
			return
		}
		typing.ClearTyping(in.RoomID, conn.UserID)
		rooms.Leave(conn, in.RoomID)

	case "sendMessage":
		if in.RoomID == 0 {
			conn.Send(relay.Error("sendMessage requires roomId"))
			return
		}
		if _, err := fanout.Send(ctx, in.RoomID, conn.UserID, in.Text, in.Attachments); err != nil {
			switch {
			case errors.Is(err, domain.ErrUnauthorized):
				conn.Send(relay.Error("not a member of this room"))
			case errors.Is(err, domain.ErrContentRejected):
				conn.Send(relay.Error("message contains inappropriate content"))
			case errors.Is(err, domain.ErrInvalidInput):
				conn.Send(relay.Error("message requires non-empty text or attachments"))
			default:
				log.Printf("ws: send message to room %d: %v", in.RoomID, err)
				conn.Send(relay.Error("failed to send message"))
			}
		}

	case "typing":
		if in.RoomID == 0 {
			return
		}
		if !subscribed(conn, in.RoomID) {
			conn.Send(relay.Error("not subscribed to this room"))
			return
		}
		if in.IsTyping {
			typing.SetTyping(in.RoomID, conn.UserID)
		} else {
			typing.ClearTyping(in.RoomID, conn.UserID)
		}

	case "startCall":
		if in.ReceiverID == 0 {
			conn.Send(relay.Error("startCall requires receiverId"))
			return
		}
		if _, err := calls.Start(conn, in.ReceiverID); err != nil {
			conn.Send(relay.Error("cannot start call"))
		}

	case "acceptCall":
		if in.CallID == "" {
			conn.Send(relay.Error("acceptCall requires callId"))
			return
		}
		if err := calls.Accept(in.CallID, conn); err != nil {
			conn.Send(relay.Error("call cannot be accepted"))
		}

	case "callSignal":
		if in.CallID == "" || in.Signal == "" {
			return
		}
		// Dropped signals are an expected race on disconnect, not an error
		// the sender should see.
		if err := calls.RelaySignal(in.CallID, conn.ID, in.Signal, in.Data); err != nil {
			log.Printf("ws: signal for call %s dropped", in.CallID)
		}

	case "endCall":
		if in.CallID == "" {
			return
		}
		calls.End(in.CallID, conn.ID)

	default:
		log.Printf("ws: unknown event type %q from user %d", in.Type, conn.UserID)
	}
}

func subscribed(conn *relay.Conn, roomID int64) bool {
	for _, id := range conn.RoomIDs() {
		if id == roomID {
			return true
		}
	}
	return false
}
