package relay

import (
	"strings"
	"sync"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
)

// ===== 房间成员表 =====

// roomNamespace 对外可见的房间名前缀。webhook 生产方和前端都按
// "conversation-" + 规范化ID 独立推算房间名，这个拼接契约不能动。
const roomNamespace = "conversation-"

// 会话ID可能带来源前缀（私聊/群聊），入表前一律剥掉
var conversationPrefixes = []string{"conv_", "group_"}

// Rooms 维护 规范化会话ID -> 成员集合。成员按用户记，不按连接记：
// 换连接不掉房（断开清理由 Registry.Unbind 的房间列表驱动）。
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{members: make(map[string]map[string]struct{})}
}

// Normalize 剥掉已知前缀，得到稳定的房间索引键
func Normalize(rawConversationID string) string {
	id := strings.TrimSpace(rawConversationID)
	for _, p := range conversationPrefixes {
		if strings.HasPrefix(id, p) {
			return strings.TrimPrefix(id, p)
		}
	}
	return id
}

// RoomName 对外可见的房间名
func RoomName(canonical string) string {
	return roomNamespace + canonical
}

// Join 幂等：重复加入同一房间只记一条日志，不算错误。
// 返回是否真的新增了成员。
func (r *Rooms) Join(canonical, userID string) bool {
	if canonical == "" || userID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[canonical]
	if !ok {
		set = make(map[string]struct{})
		r.members[canonical] = set
	}
	if _, exists := set[userID]; exists {
		logger.Infof("[Rooms] user=%s already in room=%s, noop", userID, RoomName(canonical))
		return false
	}
	set[userID] = struct{}{}
	logger.Infof("[Rooms] user=%s joined room=%s members=%d", userID, RoomName(canonical), len(set))
	return true
}

// Leave 摘成员；成员清零时整间房移除
func (r *Rooms) Leave(canonical, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[canonical]
	if !ok {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(r.members, canonical)
		logger.Infof("[Rooms] room=%s empty, removed", RoomName(canonical))
	}
}

// MembersOf 广播决策和诊断的读路径
func (r *Rooms) MembersOf(canonical string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.members[canonical]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for user := range set {
		out = append(out, user)
	}
	return out
}

// RemoveFromRooms 断开清理：把用户从给定房间集中全部摘掉
func (r *Rooms) RemoveFromRooms(userID string, canonicals []string) {
	for _, room := range canonicals {
		r.Leave(room, userID)
	}
}
