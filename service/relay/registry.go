package relay

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
)

// ===== 在线登记表 =====

var ErrEmptyUserID = errors.New("identify requires a non-empty userId")

// Registry 是“谁在线”的唯一事实来源：
//   - conns:  connID -> 连接（含未 identify 的）
//   - byUser: userID -> 当前生效连接（同一用户最多一条，last-writer-wins）
//
// 所有变更都是锁内的读改写，两个并发事件（比如同一用户同时 join 和
// disconnect）不会互相丢更新。
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*WsConn
	byUser map[string]*WsConn
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*WsConn),
		byUser: make(map[string]*WsConn),
	}
}

// Track 传输握手成功即登记；此时还没有身份
func (r *Registry) Track(c *WsConn) {
	r.mu.Lock()
	r.conns[c.ConnID] = c
	r.mu.Unlock()
}

// Bind 把身份绑到连接上。同一用户已有旧连接时直接顶掉（多开/重连场景，
// 后到者赢），返回被顶掉的连接让调用方去收尾。
func (r *Registry) Bind(c *WsConn, userID, username string) (prev *WsConn, err error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// 同一连接换身份：旧身份的在线表项必须先摘掉，
	// 一条连接任何时刻只对应一个在线身份
	if old := c.UserID(); old != "" && old != userID {
		if cur, ok := r.byUser[old]; ok && cur == c {
			delete(r.byUser, old)
			logger.Infof("[Registry] conn=%s re-identified %s -> %s", c.ConnID, old, userID)
		}
	}

	if old, ok := r.byUser[userID]; ok && old != c {
		prev = old
	}
	c.setUser(userID, username)
	r.byUser[userID] = c
	return prev, nil
}

// Unbind 连接断开时调用。只有映射仍指向这条连接才摘除在线表——
// 用户可能已经从别处重连，旧连接的退场不能误伤新会话。
// 返回该连接加入过的房间，供上层做成员清理。
func (r *Registry) Unbind(c *WsConn) (userID string, rooms []string, wasCurrent bool) {
	r.mu.Lock()
	delete(r.conns, c.ConnID)

	userID = c.UserID()
	if userID != "" {
		if cur, ok := r.byUser[userID]; ok && cur == c {
			delete(r.byUser, userID)
			wasCurrent = true
		}
	}
	r.mu.Unlock()

	rooms = c.JoinedRooms()
	if userID != "" && !wasCurrent {
		logger.Infof("[Registry] stale unbind ignored user=%s conn=%s", userID, c.ConnID)
	}
	return userID, rooms, wasCurrent
}

// Resolve 找用户当前生效的连接（消息投递目标）
func (r *Registry) Resolve(userID string) (*WsConn, bool) {
	r.mu.RLock()
	c, ok := r.byUser[userID]
	r.mu.RUnlock()
	return c, ok
}

// Snapshot 当前在线用户列表（排序稳定，方便对账/测试）
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byUser))
	for user := range r.byUser {
		out = append(out, user)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ForEachIdentified 遍历所有已绑定身份的连接；锁外回调
func (r *Registry) ForEachIdentified(fn func(*WsConn)) {
	r.mu.RLock()
	snapshot := make([]*WsConn, 0, len(r.byUser))
	for _, c := range r.byUser {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
