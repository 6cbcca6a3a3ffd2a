package handlers

import (
	"github.com/MrCobi/HemerotecaDigital-sub002/service/relay"
)

// HeartbeatHandler 客户端主动心跳：回 ack 并续期存活
type HeartbeatHandler struct{}

func NewHeartbeatHandler() relay.Handler { return &HeartbeatHandler{} }

func (h *HeartbeatHandler) Event() string { return relay.EventHeartbeat }

func (h *HeartbeatHandler) Handle(ctx *relay.Context, f *relay.Frame, conn *relay.WsConn) error {
	data, err := relay.DecodeData[relay.HeartbeatData](f)
	if err != nil {
		return err
	}
	ctx.S.RefreshLiveness(conn)
	conn.Enqueue(relay.BuildHeartbeatAck(data.Timestamp))
	return nil
}

// PongHandler 存活探测的应答：只续期，不回话
type PongHandler struct{}

func NewPongHandler() relay.Handler { return &PongHandler{} }

func (h *PongHandler) Event() string { return relay.EventPong }

func (h *PongHandler) Handle(ctx *relay.Context, _ *relay.Frame, conn *relay.WsConn) error {
	ctx.S.RefreshLiveness(conn)
	return nil
}

// RegisterAll 默认事件处理器装配
func RegisterAll(d *relay.Dispatcher) {
	d.Register(NewIdentifyHandler())
	d.Register(NewJoinHandler())
	d.Register(NewSendHandler())
	d.Register(NewReadHandler())
	d.Register(NewHeartbeatHandler())
	d.Register(NewPongHandler())
}
