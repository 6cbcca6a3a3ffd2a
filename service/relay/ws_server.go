package relay

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
	"github.com/MrCobi/HemerotecaDigital-sub002/tools/ids"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}

// HandleWS ===== WebSocket 入口 =====
func (s *Server) HandleWS(c *gin.Context) {
	up := upgrader
	if s.opts.OriginAllowed != nil {
		up.CheckOrigin = func(r *http.Request) bool {
			return s.opts.OriginAllowed(r.Header.Get("Origin"))
		}
	} else {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}

	ws, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败/Origin 不在白名单
		logger.Infof("[WS] upgrade error: %v", err)
		return
	}

	conn := NewWsConn(ids.GenerateString(), ws, s.opts.SendQueueSize)
	s.registry.Track(conn)
	logger.Infof("[WS] accepted conn=%s remote=%v", conn.ConnID, conn.Remote)

	// 控制帧 pong 也算应答，顺手续期
	ws.SetPongHandler(func(string) error {
		s.RefreshLiveness(conn)
		return nil
	})

	done := make(chan struct{})
	go s.writePump(conn, done)

	// ---- 读循环：只读不写；出错即退出（写协程收尾） ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", conn.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", conn.ConnID, rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", conn.ConnID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			// 只打印简短样本
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[WS] ParseFrame err conn=%s err=%v sample=%q len=%d",
				conn.ConnID, perr, sample, len(data))
			continue
		}

		if derr := s.disp.Dispatch(&Context{S: s}, frame, conn); derr != nil {
			logger.Warnf("[WS] dispatch err conn=%s event=%s err=%v", conn.ConnID, frame.Event, derr)
		}
	}

	// ---- 退出阶段：摘登记表/清房间/广播下线，等写协程收尾 ----
	s.Teardown(conn)
	<-done
}

// writePump 每连接唯一写者；发送队列关闭后发 Close 帧并断 socket
func (s *Server) writePump(conn *WsConn, done chan struct{}) {
	defer func() {
		_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Conn.Close()
		close(done)
		logger.Infof("[WS] closed conn=%s user=%s", conn.ConnID, conn.UserID())
	}()

	for payload := range conn.Send {
		_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Infof("[WS] write err conn=%s user=%s err=%v", conn.ConnID, conn.UserID(), err)
			// 排空队列让 Close 不阻塞，socket 一关读循环自会退出
			for range conn.Send {
			}
			return
		}
	}
}
