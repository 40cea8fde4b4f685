package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ams_backend/internal/domain"
	"ams_backend/internal/service"
)

const maxInboundBytes = 4096

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

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
	if _, wildcard := allowed["*"]; wildcard {
		return func(r *http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			// non-browser clients (amsctl) send no Origin
			return true
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

func extractTokenFromWSRequest(r *http.Request) (string, error) {
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
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

type inbound struct {
	Type          string `json:"type"`
	CounterpartID string `json:"counterpartId"`
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol),
// then pushes events from the hub and accepts:
//   - mark_read -> ConversationService.MarkRead, which publishes messages.read
//   - typing    -> forwarded to the counterpart (or everyone for "group")
//   - ping      -> pong
func MakeHandler(
	hub *Hub,
	auth *service.AuthService,
	convs *service.ConversationService,
	allowedOrigins []string,
	log *zap.Logger,
) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := auth.Authenticate(ctx, tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("ws: upgrade failed", zap.Error(err))
			return
		}

		c := &client{userID: user.ID, conn: conn, send: make(chan []byte, sendBuffer)}
		hub.register(c)
		go hub.writePump(c)
		defer hub.unregister(c)

		log.Info("ws: connected", zap.String("user_id", user.ID))
		defer log.Info("ws: disconnected", zap.String("user_id", user.ID))

		conn.SetReadLimit(maxInboundBytes)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("ws: read", zap.Error(err), zap.String("user_id", user.ID))
				}
				return
			}
			var in inbound
			if err := json.Unmarshal(raw, &in); err != nil {
				hub.reply(c, errorFrame("malformed frame"))
				continue
			}

			switch in.Type {
			case "mark_read":
				if in.CounterpartID == "" {
					hub.reply(c, errorFrame("mark_read requires counterpartId"))
					continue
				}
				n, err := convs.MarkRead(ctx, user, in.CounterpartID)
				if err != nil {
					log.Warn("ws: mark_read", zap.Error(err), zap.String("user_id", user.ID))
					hub.reply(c, errorFrame("failed to mark messages as read"))
					continue
				}
				hub.reply(c, map[string]any{
					"type":          "mark_read.ok",
					"counterpartId": in.CounterpartID,
					"count":         n,
				})

			case "typing":
				if in.CounterpartID == "" || in.CounterpartID == user.ID {
					continue
				}
				frame := map[string]any{
					"type":          "typing",
					"userId":        user.ID,
					"name":          user.Name,
					"counterpartId": in.CounterpartID,
				}
				if in.CounterpartID == domain.GroupCounterpart {
					hub.BroadcastAll(frame)
				} else {
					hub.BroadcastToUsers([]string{in.CounterpartID}, frame)
				}

			case "ping":
				hub.reply(c, map[string]any{"type": "pong"})

			default:
				log.Debug("ws: unknown event type", zap.String("type", in.Type), zap.String("user_id", user.ID))
			}
		}
	}
}

func errorFrame(msg string) map[string]any {
	return map[string]any{
		"type":    "error",
		"message": msg,
	}
}

// reply queues a frame for a single connection.
func (h *Hub) reply(c *client, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("ws: encode reply", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.conns[c.userID][c]; ok {
		h.enqueue(c, b)
	}
}
