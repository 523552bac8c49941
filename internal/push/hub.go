// Package push delivers balance updates to connected players over WebSocket.
// Each player joins a personal room keyed by user id; balance changes fan out
// to every connection in that room.
package push

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/wallet"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	frameUserData      = "user_data"
	frameBalanceUpdate = "balance_update"

	writeTimeout = 5 * time.Second
)

type frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type balancePayload struct {
	Balance int64 `json:"balance"`
}

// Hub tracks live connections grouped per user. It implements wallet.Notifier.
type Hub struct {
	directory wallet.Directory
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	guard sync.Mutex
	rooms map[string]map[*connection]struct{}
}

type connection struct {
	socket *websocket.Conn
	sendMu sync.Mutex
}

// NewHub returns a Hub resolving users through the supplied directory.
func NewHub(directory wallet.Directory, logger *zap.Logger) *Hub {
	return &Hub{
		directory: directory,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: map[string]map[*connection]struct{}{},
	}
}

// HandleConnection upgrades the request and parks the connection in the
// caller's room. An unknown or missing user id provisions a fresh dev user.
// Blocks until the client disconnects.
func (hub *Hub) HandleConnection(writer http.ResponseWriter, request *http.Request) {
	socket, err := hub.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = socket.Close() }()

	user, err := hub.resolveUser(request.Context(), request.URL.Query().Get("user_id"))
	if err != nil {
		hub.logger.Warn("websocket user resolution failed", zap.Error(err))
		return
	}

	conn := &connection{socket: socket}
	hub.join(user.UserID, conn)
	defer hub.leave(user.UserID, conn)

	hub.logger.Info("client connected", zap.String("user_id", user.UserID))

	if err := conn.send(frame{Event: frameUserData, Payload: userPayload(user)}); err != nil {
		hub.logger.Warn("user data push failed", zap.Error(err))
		return
	}

	// Reads are only consumed to detect disconnects.
	for {
		if _, _, err := socket.ReadMessage(); err != nil {
			hub.logger.Info("client disconnected", zap.String("user_id", user.UserID))
			return
		}
	}
}

// BalanceChanged implements wallet.Notifier.
func (hub *Hub) BalanceChanged(_ context.Context, userID wallet.UserID, balance wallet.AmountUnits) {
	update := frame{Event: frameBalanceUpdate, Payload: balancePayload{Balance: balance.Int64()}}
	for _, conn := range hub.roomConnections(userID.String()) {
		if err := conn.send(update); err != nil {
			hub.logger.Warn("balance push failed",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

func (hub *Hub) resolveUser(ctx context.Context, rawUserID string) (wallet.User, error) {
	if rawUserID != "" {
		userID, err := wallet.NewUserID(rawUserID)
		if err == nil {
			user, lookupErr := hub.directory.GetUserByID(ctx, userID)
			if lookupErr == nil {
				return user, nil
			}
		}
	}
	return hub.directory.CreateNewUser(ctx)
}

func (hub *Hub) join(userID string, conn *connection) {
	hub.guard.Lock()
	defer hub.guard.Unlock()
	room, ok := hub.rooms[userID]
	if !ok {
		room = map[*connection]struct{}{}
		hub.rooms[userID] = room
	}
	room[conn] = struct{}{}
}

func (hub *Hub) leave(userID string, conn *connection) {
	hub.guard.Lock()
	defer hub.guard.Unlock()
	room, ok := hub.rooms[userID]
	if !ok {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(hub.rooms, userID)
	}
}

func (hub *Hub) roomConnections(userID string) []*connection {
	hub.guard.Lock()
	defer hub.guard.Unlock()
	room := hub.rooms[userID]
	connections := make([]*connection, 0, len(room))
	for conn := range room {
		connections = append(connections, conn)
	}
	return connections
}

func (conn *connection) send(message frame) error {
	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()
	_ = conn.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.socket.WriteJSON(message)
}

func userPayload(user wallet.User) map[string]any {
	return map[string]any{
		"user_id":       user.UserID,
		"nickname":      user.Nickname,
		"firstname":     user.Firstname,
		"lastname":      user.Lastname,
		"city":          user.City,
		"country":       user.Country,
		"date_of_birth": user.DateOfBirth,
		"gender":        user.Gender,
		"registered_at": user.RegisteredAtUTC,
		"balance":       user.BalanceUnits.Int64(),
	}
}
