package relay

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
)

// ===== 连接状态 =====

// WsConn 表示一条活跃的传输会话。身份、已加入房间、identify 之前排队的
// join 请求都挂在这里，由 Registry 统一持有，不散落在 socket 上。
type WsConn struct {
	ConnID string
	Conn   *websocket.Conn // 单测里可以为 nil
	Remote net.Addr

	Send chan []byte // 每连接独立发送队列（单写协程消费）

	mu        sync.Mutex
	userID    string
	username  string
	joined    map[string]struct{} // 已加入的规范化房间
	pending   []string            // identify 之前排队的会话ID（原始形式）
	flushed   bool                // pending 只允许 flush 一次
	lastProbe time.Time           // 最近一次存活探测的时间
	lastSeen  time.Time           // 最近一次 pong/heartbeat；时间一律取监测时钟
	closed    bool

	CreatedAt time.Time
}

func NewWsConn(connID string, ws *websocket.Conn, sendQueueSize int) *WsConn {
	c := &WsConn{
		ConnID:    connID,
		Conn:      ws,
		Send:      make(chan []byte, sendQueueSize),
		joined:    make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr()
	}
	return c
}

func (c *WsConn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *WsConn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *WsConn) setUser(userID, username string) {
	c.mu.Lock()
	c.userID = userID
	c.username = username
	c.mu.Unlock()
}

// Enqueue 非阻塞投递；队列满直接丢帧（慢客户端不拖垮事件处理路径）
func (c *WsConn) Enqueue(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		logger.Warnf("[Conn] send queue full, drop frame conn=%s user=%s", c.ConnID, c.userID)
		return false
	}
}

// Close 幂等：关发送队列并断底层 socket；写协程看到队列关闭后收尾
func (c *WsConn) Close() {
	c.mu.Lock()
	already := c.closed
	if !already {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	if !already && c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// ===== identify 之前的 join 排队 =====

// QueueJoin 在身份绑定前记住 join 请求，保持到达顺序
func (c *WsConn) QueueJoin(conversationID string) {
	c.mu.Lock()
	c.pending = append(c.pending, conversationID)
	c.mu.Unlock()
}

// TakePending 取走排队的 join 并标记已 flush；第二次调用返回 nil，
// 保证排队请求绝不重放两次
func (c *WsConn) TakePending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flushed {
		return nil
	}
	c.flushed = true
	out := c.pending
	c.pending = nil
	return out
}

// ===== 房间归属（用于断开清理） =====

func (c *WsConn) MarkJoined(canonical string) {
	c.mu.Lock()
	c.joined[canonical] = struct{}{}
	c.mu.Unlock()
}

func (c *WsConn) MarkLeft(canonical string) {
	c.mu.Lock()
	delete(c.joined, canonical)
	c.mu.Unlock()
}

func (c *WsConn) HasJoined(canonical string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[canonical]
	return ok
}

func (c *WsConn) JoinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for room := range c.joined {
		out = append(out, room)
	}
	return out
}

// ===== 存活时间戳 =====

func (c *WsConn) MarkProbe(now time.Time) {
	c.mu.Lock()
	c.lastProbe = now
	c.mu.Unlock()
}

// Refresh 收到 pong/heartbeat 时续期
func (c *WsConn) Refresh(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

// ProbeExpired 判断是否存在一个已超期且未被应答的探测
func (c *WsConn) ProbeExpired(now time.Time, grace time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastProbe.IsZero() {
		return false
	}
	// 探测之后有过任何应答，就不算失联
	if !c.lastSeen.Before(c.lastProbe) {
		return false
	}
	return now.After(c.lastProbe.Add(grace))
}
