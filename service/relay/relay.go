package relay

import (
	"context"
	"time"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/storage"
	"github.com/MrCobi/HemerotecaDigital-sub002/tools/ids"
)

// ===== 消息中继 =====

// Relay 负责 send_message 的完整链路：校验 -> 幂等查重 -> 落库 ->
// ack -> 自回显 -> 房间/点对点扇出。本身无状态，共享状态只通过
// Registry / Rooms 的契约读写。
type Relay struct {
	registry *Registry
	rooms    *Rooms
	fanout   *Fanout
	store    storage.MessageStore
}

func NewRelay(registry *Registry, rooms *Rooms, fanout *Fanout, store storage.MessageStore) *Relay {
	return &Relay{registry: registry, rooms: rooms, fanout: fanout, store: store}
}

// Send 处理一条来自 src 连接的发送请求。
// 任何失败都只产生 failed ack（带原 tempId 让客户端精确对账），
// 绝不让错误越过这里往上冒。
func (r *Relay) Send(ctx context.Context, src *WsConn, req *SendMessageData) {
	// 发送者必须就是这条连接绑定的身份，拒绝代发
	boundUser := src.UserID()
	if boundUser == "" || req.SenderID != boundUser {
		logger.Warnf("[Relay] sender mismatch conn=%s bound=%s claimed=%s", src.ConnID, boundUser, req.SenderID)
		src.Enqueue(BuildAck("", req.TempID, AckFailed, "sender does not match connection identity"))
		return
	}

	if req.Content == "" && req.MediaURL == "" {
		src.Enqueue(BuildAck("", req.TempID, AckFailed, "empty message"))
		return
	}

	msgType := storage.MessageType(req.MessageType)
	if req.MessageType == "" {
		msgType = storage.MessageText
	}
	if !msgType.Valid() {
		src.Enqueue(BuildAck("", req.TempID, AckFailed, "unknown messageType: "+req.MessageType))
		return
	}

	// 幂等：传输层断线重试可能原样重发。token 优先；token 同时当
	// 最终ID兜底查一次，容忍客户端上一轮已经拿到过服务端ID。
	if req.TempID != "" {
		existing, err := r.store.FindByTokenOrID(ctx, req.TempID, req.TempID)
		if err != nil {
			logger.Errorf("[Relay] dedup lookup err tempId=%s: %v", req.TempID, err)
			src.Enqueue(BuildAck("", req.TempID, AckFailed, "store lookup failed"))
			return
		}
		if existing != nil {
			// 安全重试：不建新行、不再扇出，只把既有记录答回去
			logger.Infof("[Relay] duplicate send collapsed tempId=%s id=%s", req.TempID, existing.ID)
			src.Enqueue(BuildAck(existing.ID, req.TempID, AckSent, ""))
			src.Enqueue(BuildNewMessage(existing))
			return
		}
	}

	msg := &storage.Message{
		ID:             ids.GenerateString(),
		TempID:         req.TempID,
		Content:        req.Content,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		ConversationID: req.ConversationID,
		MessageType:    msgType,
		MediaURL:       req.MediaURL,
		CreatedAt:      time.Now().UTC(),
	}

	persisted, err := r.store.Create(ctx, msg)
	if err != nil {
		logger.Errorf("[Relay] persist err sender=%s tempId=%s: %v", req.SenderID, req.TempID, err)
		src.Enqueue(BuildAck("", req.TempID, AckFailed, "persist failed"))
		return
	}

	// ack 永远直发源连接；自回显保证发送端状态一致
	src.Enqueue(BuildAck(persisted.ID, req.TempID, AckSent, ""))
	src.Enqueue(BuildNewMessage(persisted))

	r.fanOut(persisted, src)
}

// DispatchExisting 给 webhook 桥用：消息已由外部流程落库，跳过持久化
// 和查重，走一模一样的扇出（含发送者在线时的回显）。
func (r *Relay) DispatchExisting(m *storage.Message) {
	if sender, ok := r.registry.Resolve(m.SenderID); ok {
		sender.Enqueue(BuildNewMessage(m))
		r.fanOut(m, sender)
		return
	}
	r.fanOut(m, nil)
}

// fanOut 房间优先；没房间再看点对点接收者。exclude 是发送者自己的
// 连接（回显已经直发过，不能再收一份）。
func (r *Relay) fanOut(m *storage.Message, exclude *WsConn) {
	if m.ConversationID != "" {
		canonical := Normalize(m.ConversationID)
		targets := r.roomTargets(canonical, m.SenderID, exclude)
		logger.Infof("[Relay] broadcast id=%s room=%s targets=%d", m.ID, RoomName(canonical), len(targets))
		r.fanout.Broadcast(targets, BuildNewMessage(m))
		return
	}

	if m.ReceiverID != "" {
		if dst, ok := r.registry.Resolve(m.ReceiverID); ok {
			dst.Enqueue(BuildNewMessage(m))
		} else {
			// 接收者不在线：消息已落库，等它下次拉历史，不做离线重投
			logger.Infof("[Relay] receiver offline id=%s receiver=%s", m.ID, m.ReceiverID)
		}
	}
}

func (r *Relay) roomTargets(canonical, senderID string, exclude *WsConn) []*WsConn {
	members := r.rooms.MembersOf(canonical)
	targets := make([]*WsConn, 0, len(members))
	for _, user := range members {
		if user == senderID {
			continue
		}
		c, ok := r.registry.Resolve(user)
		if !ok || c == exclude {
			continue
		}
		targets = append(targets, c)
	}
	return targets
}
