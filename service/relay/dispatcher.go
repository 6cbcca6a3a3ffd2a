package relay

import (
	"github.com/pkg/errors"
)

// Handler 一个客户端事件一个处理器
type Handler interface {
	Event() string
	Handle(ctx *Context, f *Frame, conn *WsConn) error
}

// Context 传给处理器的执行环境
type Context struct {
	S *Server
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Event()] = h }

func (d *Dispatcher) Dispatch(ctx *Context, f *Frame, conn *WsConn) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return errors.Errorf("no handler for event=%s", f.Event)
	}
	return h.Handle(ctx, f, conn)
}
