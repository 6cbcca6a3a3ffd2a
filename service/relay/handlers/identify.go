package handlers

import (
	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/relay"
	security "github.com/MrCobi/HemerotecaDigital-sub002/tools/security"
)

type IdentifyHandler struct{}

func NewIdentifyHandler() relay.Handler { return &IdentifyHandler{} }

func (h *IdentifyHandler) Event() string { return relay.EventIdentify }

func (h *IdentifyHandler) Handle(ctx *relay.Context, f *relay.Frame, conn *relay.WsConn) error {
	data, err := relay.DecodeData[relay.IdentifyData](f)
	if err != nil {
		conn.Enqueue(relay.BuildError("malformed identify payload"))
		return err
	}
	if data.UserID == "" {
		// 识别错误：error 事件告知客户端，状态一概不动
		conn.Enqueue(relay.BuildError("identify requires userId"))
		logger.Warnf("[identify] empty userId conn=%s", conn.ConnID)
		return nil
	}

	// 配置了 JWT 密钥才校验令牌；sub 必须就是声称的 userId
	if secret := ctx.S.Opts().JWTSecret; secret != "" {
		sub, verr := security.VerifySubject(security.DefaultOptions([]byte(secret)), data.Token)
		if verr != nil || sub != data.UserID {
			conn.Enqueue(relay.BuildError("identify token rejected"))
			logger.Warnf("[identify] token rejected user=%s conn=%s err=%v", data.UserID, conn.ConnID, verr)
			return nil
		}
	}

	if berr := ctx.S.BindIdentity(conn, data.UserID, data.Username); berr != nil {
		conn.Enqueue(relay.BuildError(berr.Error()))
	}
	return nil
}
