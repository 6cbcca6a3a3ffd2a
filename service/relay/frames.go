package relay

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/storage"
)

// ===== 事件协议 =====
//
// 线上协议是 {"event": "...", "data": {...}} 的 JSON 信封，双向一致。
// 事件名和字段与门户前端约定死，改名=断协议。

// 客户端 -> 服务端
const (
	EventIdentify         = "identify"
	EventJoinConversation = "join_conversation"
	EventSendMessage      = "send_message"
	EventReadMessage      = "read_message"
	EventHeartbeat        = "heartbeat"
	EventPong             = "pong"
)

// 服务端 -> 客户端
const (
	EventConnected    = "connected"
	EventUserStatus   = "user_status"
	EventNewMessage   = "new_message"
	EventMessageAck   = "message_ack"
	EventMessageRead  = "message_read"
	EventUsersOnline  = "users_online"
	EventHeartbeatAck = "heartbeat_ack"
	EventPing         = "ping"
	EventError        = "error"
)

// ack 状态
const (
	AckSent   = "sent"
	AckFailed = "failed"
)

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ===== 负载 =====

type IdentifyData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"` // 可选：配置了 JWT 密钥才校验
}

type JoinConversationData struct {
	ConversationID string `json:"conversationId"`
}

type SendMessageData struct {
	TempID         string `json:"tempId,omitempty"` // 客户端幂等ID
	Content        string `json:"content"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageType    string `json:"messageType,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
}

type ReadMessageData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId"`
}

type HeartbeatData struct {
	Timestamp int64 `json:"timestamp"`
}

type AckData struct {
	MessageID string `json:"messageId,omitempty"`
	TempID    string `json:"tempId,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type UserStatusData struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"` // online | offline
	Timestamp int64  `json:"timestamp"`
}

type MessageReadData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
	ReadBy         string `json:"readBy"`
}

// ===== 编解码 =====

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame failed")
	}
	if f.Event == "" {
		return nil, errors.New("frame missing event")
	}
	return f, nil
}

// DecodeData 把信封里的 data 解析成具体负载
func DecodeData[T any](f *Frame) (*T, error) {
	out := new(T)
	if len(f.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s data failed", f.Event)
	}
	return out, nil
}

func encodeFrame(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Errorf("[Frames] marshal %s data err: %v", event, err)
		raw = []byte("{}")
	}
	b, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		logger.Errorf("[Frames] marshal %s frame err: %v", event, err)
		return nil
	}
	return b
}

// ---- 构造若干服务端回执 ----

func BuildConnected(userID string) []byte {
	return encodeFrame(EventConnected, map[string]string{"userId": userID})
}

func BuildUserStatus(userID, status string) []byte {
	return encodeFrame(EventUserStatus, UserStatusData{
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
}

func BuildNewMessage(m *storage.Message) []byte {
	return encodeFrame(EventNewMessage, m)
}

func BuildAck(messageID, tempID, status, errMsg string) []byte {
	return encodeFrame(EventMessageAck, AckData{
		MessageID: messageID,
		TempID:    tempID,
		Status:    status,
		Error:     errMsg,
	})
}

func BuildMessageRead(messageID, conversationID, readBy string) []byte {
	return encodeFrame(EventMessageRead, MessageReadData{
		MessageID:      messageID,
		ConversationID: conversationID,
		ReadBy:         readBy,
	})
}

func BuildUsersOnline(users []string) []byte {
	if users == nil {
		users = []string{}
	}
	return encodeFrame(EventUsersOnline, map[string][]string{"users": users})
}

func BuildHeartbeatAck(ts int64) []byte {
	return encodeFrame(EventHeartbeatAck, HeartbeatData{Timestamp: ts})
}

func BuildPing(ts int64) []byte {
	return encodeFrame(EventPing, HeartbeatData{Timestamp: ts})
}

func BuildError(msg string) []byte {
	return encodeFrame(EventError, map[string]string{"message": msg})
}
