package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/storage"
)

// ===== webhook 桥 =====

// HandleWebhook 接外部流程（REST API 直接落库）产生的“消息已创建”事件，
// 走和 send_message 一模一样的扇出，但跳过落库和幂等查重——消息已经
// 是持久的了。鉴权（共享密钥）由路由中间件把关，进不到这里。
func (s *Server) HandleWebhook(c *gin.Context) {
	var msg storage.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		logger.Warnf("[Webhook] bad payload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message payload"})
		return
	}
	if msg.ID == "" || msg.SenderID == "" {
		logger.Warnf("[Webhook] missing id/senderId id=%q sender=%q", msg.ID, msg.SenderID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "message requires id and senderId"})
		return
	}
	if msg.MessageType == "" {
		msg.MessageType = storage.MessageText
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[Webhook] fan-out panic id=%s: %v", msg.ID, r)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "fan-out failed"})
			}
		}()
		s.relay.DispatchExisting(&msg)
		logger.Infof("[Webhook] dispatched id=%s sender=%s conv=%s", msg.ID, msg.SenderID, msg.ConversationID)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}()
}

// HandleOnline 诊断路由：当前在线用户快照
func (s *Server) HandleOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.registry.Snapshot()})
}

// HandlePresence 单用户在线查询。本进程登记表优先；查不到再看
// redis 镜像（多用于核对镜像与登记表是否一致）。
func (s *Server) HandlePresence(c *gin.Context) {
	user := c.Param("userId")
	if conn, ok := s.registry.Resolve(user); ok {
		c.JSON(http.StatusOK, gin.H{"userId": user, "online": true, "connId": conn.ConnID})
		return
	}
	if s.opts.PresenceMirror {
		connID, online, err := storage.PresenceLookup(user)
		if err != nil {
			logger.Debugf("[Webhook] presence lookup err user=%s: %v", user, err)
		} else if online {
			c.JSON(http.StatusOK, gin.H{"userId": user, "online": true, "connId": connID})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"userId": user, "online": false})
}
