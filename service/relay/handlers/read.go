package handlers

import (
	"context"
	"time"

	"github.com/MrCobi/HemerotecaDigital-sub002/service/relay"
)

const markReadTimeout = 10 * time.Second

type ReadHandler struct{}

func NewReadHandler() relay.Handler { return &ReadHandler{} }

func (h *ReadHandler) Event() string { return relay.EventReadMessage }

func (h *ReadHandler) Handle(ctx *relay.Context, f *relay.Frame, conn *relay.WsConn) error {
	data, err := relay.DecodeData[relay.ReadMessageData](f)
	if err != nil {
		return err
	}

	readCtx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()
	ctx.S.Receipts().MarkRead(readCtx, data)
	return nil
}
