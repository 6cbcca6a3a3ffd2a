package relay

import (
	"context"
	"time"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/storage"
)

// ===== 服务装配 =====

const (
	defaultSendQueue  = 256
	fanoutWorkers     = 8
	fanoutQueueLength = 1024
)

type Options struct {
	JWTSecret      string              // 为空则 identify 不做令牌校验
	Monitor        MonitorConf         // 存活探测参数
	OriginAllowed  func(string) bool   // 握手 Origin 白名单；nil 放行全部
	PresenceMirror bool                // 是否往 redis 写在线镜像
	SendQueueSize  int
}

// Server 把登记表、房间表、中继、回执、存活监测拢在一起；
// 处理器通过 Context 拿到它来干活。
type Server struct {
	opts     Options
	registry *Registry
	rooms    *Rooms
	fanout   *Fanout
	relay    *Relay
	receipts *Receipts
	monitor  *Monitor
	disp     *Dispatcher
	store    storage.MessageStore

	presenceTTL time.Duration
}

func NewServer(opts Options, store storage.MessageStore) *Server {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultSendQueue
	}
	registry := NewRegistry()
	rooms := NewRooms()
	fanout := NewFanout(fanoutWorkers, fanoutQueueLength)

	s := &Server{
		opts:     opts,
		registry: registry,
		rooms:    rooms,
		fanout:   fanout,
		relay:    NewRelay(registry, rooms, fanout, store),
		receipts: NewReceipts(registry, rooms, fanout, store),
		monitor:  NewMonitor(registry, opts.Monitor),
		disp:     NewDispatcher(),
		store:    store,
	}
	// 镜像 TTL 盖过一个完整的 探测+宽限 周期，进程崩了键也会自己过期
	s.presenceTTL = s.monitor.conf.ProbeInterval + s.monitor.conf.ProbeGrace + 10*time.Second
	s.monitor.OnExpire = s.Teardown
	return s
}

func (s *Server) Registry() *Registry { return s.registry }
func (s *Server) Rooms() *Rooms       { return s.rooms }
func (s *Server) Relay() *Relay       { return s.relay }
func (s *Server) Receipts() *Receipts { return s.receipts }
func (s *Server) Monitor() *Monitor   { return s.monitor }
func (s *Server) Disp() *Dispatcher   { return s.disp }
func (s *Server) Opts() Options       { return s.opts }

// RunMonitor 起存活监测循环（阻塞，调用方决定放哪个协程）
func (s *Server) RunMonitor(ctx context.Context) { s.monitor.Run(ctx) }

// ===== 事件编排 =====

// BindIdentity 绑定身份：顶掉旧连接、重放排队的 join、刷镜像、
// 回 connected + users_online，并向其他在线者广播上线。
func (s *Server) BindIdentity(conn *WsConn, userID, username string) error {
	// 同一连接换身份：旧身份连同它的房间成员资格一起退场，
	// 否则没有任何连接的身份会永远留在房间里
	if old := conn.UserID(); old != "" && old != userID {
		rooms := conn.JoinedRooms()
		s.rooms.RemoveFromRooms(old, rooms)
		for _, room := range rooms {
			conn.MarkLeft(room)
		}
		s.mirrorOffline(old)
		s.broadcastStatus(old, "offline", conn)
	}

	prev, err := s.registry.Bind(conn, userID, username)
	if err != nil {
		return err
	}
	if prev != nil {
		// 多开/重连：旧会话直接退场，登记表已经指向新连接，
		// 它的 unbind 不会误删在线表。房间成员资格按用户存续，
		// 房间归属要跟到新连接上，最终退场时才清得掉
		logger.Infof("[Server] superseding stale conn=%s user=%s", prev.ConnID, userID)
		for _, room := range prev.JoinedRooms() {
			conn.MarkJoined(room)
		}
		prev.Close()
	}

	// 重放 identify 之前排队的 join；TakePending 保证只此一次
	for _, raw := range conn.TakePending() {
		s.JoinConversation(conn, raw)
	}

	s.mirrorOnline(conn)

	conn.Enqueue(BuildConnected(userID))
	conn.Enqueue(BuildUsersOnline(s.registry.Snapshot()))
	s.broadcastStatus(userID, "online", conn)

	logger.Infof("[Server] identified conn=%s user=%s username=%s", conn.ConnID, userID, username)
	return nil
}

// JoinConversation 身份还没绑定时先排队，绑定后重放；绑定了就直接入房
func (s *Server) JoinConversation(conn *WsConn, rawConversationID string) {
	if rawConversationID == "" {
		// 房间引用缺失：记日志丢弃，协议里没有 join 的失败应答
		logger.Warnf("[Server] join with empty conversationId conn=%s", conn.ConnID)
		return
	}

	userID := conn.UserID()
	if userID == "" {
		logger.Infof("[Server] queue join before identify conn=%s conv=%s", conn.ConnID, rawConversationID)
		conn.QueueJoin(rawConversationID)
		return
	}

	canonical := Normalize(rawConversationID)
	s.rooms.Join(canonical, userID)
	conn.MarkJoined(canonical)
}

// Teardown 连接退场：摘登记表、清房间成员、撤镜像、广播下线。
// 读循环退出、探测超时、被新会话顶掉都会走到这里，幂等。
func (s *Server) Teardown(conn *WsConn) {
	userID, rooms, wasCurrent := s.registry.Unbind(conn)

	if wasCurrent {
		// 只有仍是当前会话才动共享状态；旧会话的退场不能
		// 清掉新会话的房间成员资格
		s.rooms.RemoveFromRooms(userID, rooms)
		s.mirrorOffline(userID)
		s.broadcastStatus(userID, "offline", conn)
		logger.Infof("[Server] disconnected user=%s conn=%s rooms=%d", userID, conn.ConnID, len(rooms))
	}

	conn.Close()
}

// RefreshLiveness 收到 pong/heartbeat：续期存活时间戳和在线镜像
func (s *Server) RefreshLiveness(conn *WsConn) {
	conn.Refresh(s.monitor.conf.Clock())
	if conn.UserID() != "" {
		s.mirrorOnline(conn)
	}
}

func (s *Server) broadcastStatus(userID, status string, exclude *WsConn) {
	payload := BuildUserStatus(userID, status)
	var targets []*WsConn
	s.registry.ForEachIdentified(func(c *WsConn) {
		if c != exclude {
			targets = append(targets, c)
		}
	})
	s.fanout.Broadcast(targets, payload)
}

// ===== redis 在线镜像（尽力而为，挂了不影响主链路） =====

func (s *Server) mirrorOnline(conn *WsConn) {
	if !s.opts.PresenceMirror {
		return
	}
	if err := storage.PresenceOnline(conn.UserID(), conn.ConnID, s.presenceTTL); err != nil {
		logger.Debugf("[Server] presence mirror online err user=%s: %v", conn.UserID(), err)
	}
}

func (s *Server) mirrorOffline(userID string) {
	if !s.opts.PresenceMirror {
		return
	}
	if err := storage.PresenceOffline(userID); err != nil {
		logger.Debugf("[Server] presence mirror offline err user=%s: %v", userID, err)
	}
}

// Shutdown 优雅退场：断所有连接，停扇出池
func (s *Server) Shutdown() {
	s.registry.ForEachIdentified(func(c *WsConn) {
		s.Teardown(c)
	})
	s.fanout.Close()
}
