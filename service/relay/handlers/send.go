package handlers

import (
	"context"
	"time"

	"github.com/MrCobi/HemerotecaDigital-sub002/service/relay"
)

// persistTimeout 单条消息落库链路的上限；拖住的只是这一条的 ack，
// 不挡其他连接
const persistTimeout = 10 * time.Second

type SendHandler struct{}

func NewSendHandler() relay.Handler { return &SendHandler{} }

func (h *SendHandler) Event() string { return relay.EventSendMessage }

func (h *SendHandler) Handle(ctx *relay.Context, f *relay.Frame, conn *relay.WsConn) error {
	data, err := relay.DecodeData[relay.SendMessageData](f)
	if err != nil {
		conn.Enqueue(relay.BuildAck("", "", relay.AckFailed, "malformed send_message payload"))
		return err
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	ctx.S.Relay().Send(sendCtx, conn, data)
	return nil
}
