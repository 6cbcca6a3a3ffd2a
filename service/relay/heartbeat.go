package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
)

// ===== 存活监测 =====

// 每连接的状态机：ALIVE -> PROBING -> (pong 回 ALIVE | 超时 TERMINATED)。
// 没有这层，悄悄消失的客户端（断网/崩溃）会永远占着在线表和房间，
// 消息投进虚空。

const (
	writeWait      = 10 * time.Second
	firstPingDelay = 5 * time.Second // 首个探测延后，避免刚连上即写超时
	sweepEvery     = time.Second     // 超时清理的检查粒度
)

type MonitorConf struct {
	ProbeInterval time.Duration    // 存活探测周期
	ProbeGrace    time.Duration    // 应答宽限
	ActivityPing  time.Duration    // 协议层保活 ping 周期（仅防中间设备断闲置连接）
	Clock         func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *MonitorConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.ProbeGrace <= 0 {
		c.ProbeGrace = 15 * time.Second
	}
	if c.ActivityPing <= 0 {
		c.ActivityPing = 20 * time.Second
	}
}

// Monitor 周期性探测每条已绑定身份的连接，超时未应答的强制断开。
// OnExpire 由上层注入（关连接 + Registry 摘除 + 房间清理）。
type Monitor struct {
	registry *Registry
	conf     MonitorConf
	OnExpire func(*WsConn)
}

func NewMonitor(registry *Registry, conf MonitorConf) *Monitor {
	conf.norm()
	return &Monitor{registry: registry, conf: conf}
}

func (m *Monitor) Run(ctx context.Context) {
	probe := time.NewTicker(m.conf.ProbeInterval)
	sweep := time.NewTicker(sweepEvery)
	keepalive := time.NewTicker(m.conf.ActivityPing)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		probe.Stop()
		sweep.Stop()
		keepalive.Stop()
		first.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-first.C:
			m.probeAll()

		case <-probe.C:
			m.probeAll()

		case <-sweep.C:
			m.sweepOnce()

		case <-keepalive.C:
			// 控制帧 ping：只为别让代理/负载均衡掐闲置连接，
			// 不参与超时判定
			m.registry.ForEachIdentified(func(c *WsConn) {
				if c.Conn == nil {
					return
				}
				_ = c.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
			})
		}
	}
}

// probeAll 给每条已识别连接发应用层 ping，并记录探测时间
func (m *Monitor) probeAll() {
	now := m.conf.Clock()
	m.registry.ForEachIdentified(func(c *WsConn) {
		c.MarkProbe(now)
		c.Enqueue(BuildPing(now.UnixMilli()))
	})
}

// sweepOnce 强制断开所有探测超期未应答的连接
func (m *Monitor) sweepOnce() {
	now := m.conf.Clock()
	var expired []*WsConn
	m.registry.ForEachIdentified(func(c *WsConn) {
		if c.ProbeExpired(now, m.conf.ProbeGrace) {
			expired = append(expired, c)
		}
	})

	for _, c := range expired {
		logger.Warnf("[Monitor] probe timeout, terminating conn=%s user=%s", c.ConnID, c.UserID())
		if m.OnExpire != nil {
			m.OnExpire(c)
		} else {
			c.Close()
		}
	}
}

// SweepNow 单测钩子：立即执行一轮超时清理
func (m *Monitor) SweepNow() { m.sweepOnce() }

// ProbeNow 单测钩子：立即执行一轮探测
func (m *Monitor) ProbeNow() { m.probeAll() }
