package ws

import (
	"net/http"

	"airspace/internal/broker"
	"airspace/internal/models"
	"airspace/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Authenticator 在握手前确定当前用户。
type Authenticator func(r *http.Request) (*models.User, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeChat 处理 /ws/chat/:room，连接期间加入房间组并执行客户端命令。
func ServeChat(b broker.Broker, cmds Commands, authenticate Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")
		if !service.ValidRoomName(room) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room name"})
			return
		}
		user, ok := handshakeUser(c, authenticate)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("room", room).Msg("ws upgrade")
			return
		}
		log.Debug().Uint("user_id", user.ID).Str("room", room).Msg("ws chat connected")
		newSession(conn, b, cmds, user.ID, user.Username, room).Run()
	}
}

// ServeNotifications 处理 /ws/notifications，只订阅当前用户的通知组。
func ServeNotifications(b broker.Broker, authenticate Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := handshakeUser(c, authenticate)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade")
			return
		}
		newSession(conn, b, nil, user.ID, user.Username, "").Run()
	}
}

func handshakeUser(c *gin.Context, authenticate Authenticator) (*models.User, bool) {
	user, err := authenticate(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return user, true
}
