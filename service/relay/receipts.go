package relay

import (
	"context"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/storage"
)

// ===== 已读回执 =====

// Receipts 把已读标记写进存储并通知相关方。协议里 read_message 没有
// 应答事件，失败只记日志，不打扰客户端。
type Receipts struct {
	registry *Registry
	rooms    *Rooms
	fanout   *Fanout
	store    storage.MessageStore
}

func NewReceipts(registry *Registry, rooms *Rooms, fanout *Fanout, store storage.MessageStore) *Receipts {
	return &Receipts{registry: registry, rooms: rooms, fanout: fanout, store: store}
}

// MarkRead 标记已读并广播回执。
// messageId / userId 缺一不可：记日志丢弃，不动任何状态。
func (rc *Receipts) MarkRead(ctx context.Context, req *ReadMessageData) {
	if req.MessageID == "" || req.UserID == "" {
		logger.Warnf("[Receipts] rejected read_message messageId=%q readBy=%q", req.MessageID, req.UserID)
		return
	}

	msg, err := rc.store.MarkRead(ctx, req.MessageID)
	if err != nil {
		logger.Errorf("[Receipts] mark read err messageId=%s: %v", req.MessageID, err)
		return
	}

	notice := BuildMessageRead(req.MessageID, req.ConversationID, req.UserID)

	// 带会话ID：整房广播，所有参会者的 UI 都能刷新回执
	if req.ConversationID != "" {
		canonical := Normalize(req.ConversationID)
		members := rc.rooms.MembersOf(canonical)
		targets := make([]*WsConn, 0, len(members))
		for _, user := range members {
			if c, ok := rc.registry.Resolve(user); ok {
				targets = append(targets, c)
			}
		}
		rc.fanout.Broadcast(targets, notice)
		return
	}

	// 点对点：只通知原消息的发送者（在线才发）
	if sender, ok := rc.registry.Resolve(msg.SenderID); ok {
		sender.Enqueue(notice)
	}
}
