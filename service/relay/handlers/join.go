package handlers

import (
	"github.com/MrCobi/HemerotecaDigital-sub002/service/relay"
)

type JoinHandler struct{}

func NewJoinHandler() relay.Handler { return &JoinHandler{} }

func (h *JoinHandler) Event() string { return relay.EventJoinConversation }

func (h *JoinHandler) Handle(ctx *relay.Context, f *relay.Frame, conn *relay.WsConn) error {
	data, err := relay.DecodeData[relay.JoinConversationData](f)
	if err != nil {
		return err
	}
	// 身份没绑定时 Server 内部排队，identify 后按原顺序重放
	ctx.S.JoinConversation(conn, data.ConversationID)
	return nil
}
