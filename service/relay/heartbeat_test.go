package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestProbeSendsPingAndArmsTimeout(t *testing.T) {
	clock := newFakeClock()
	registry := NewRegistry()
	m := NewMonitor(registry, MonitorConf{
		ProbeInterval: time.Hour, // 周期由测试钩子驱动
		ProbeGrace:    15 * time.Second,
		Clock:         clock.Now,
	})
	c := identifiedConn(t, registry, "u1")

	m.ProbeNow()

	f := recvFrame(t, c)
	assert.Equal(t, EventPing, f.Event)
	assert.True(t, c.ProbeExpired(clock.Now().Add(16*time.Second), 15*time.Second))
}

func TestSweepTerminatesUnansweredProbe(t *testing.T) {
	clock := newFakeClock()
	registry := NewRegistry()
	m := NewMonitor(registry, MonitorConf{
		ProbeInterval: time.Hour,
		ProbeGrace:    15 * time.Second,
		Clock:         clock.Now,
	})
	var expired []*WsConn
	m.OnExpire = func(c *WsConn) { expired = append(expired, c) }

	c := identifiedConn(t, registry, "u1")
	m.ProbeNow()
	recvFrame(t, c) // ping

	clock.Advance(10 * time.Second)
	m.SweepNow()
	assert.Empty(t, expired, "still inside the grace window")

	clock.Advance(10 * time.Second)
	m.SweepNow()
	require.Len(t, expired, 1)
	assert.Same(t, c, expired[0])
}

func TestPongWithinGraceKeepsConnectionAlive(t *testing.T) {
	clock := newFakeClock()
	registry := NewRegistry()
	m := NewMonitor(registry, MonitorConf{
		ProbeInterval: time.Hour,
		ProbeGrace:    15 * time.Second,
		Clock:         clock.Now,
	})
	var expired []*WsConn
	m.OnExpire = func(c *WsConn) { expired = append(expired, c) }

	c := identifiedConn(t, registry, "u1")
	m.ProbeNow()
	recvFrame(t, c)

	clock.Advance(5 * time.Second)
	c.Refresh(clock.Now()) // pong 到达

	clock.Advance(time.Hour)
	m.SweepNow()
	assert.Empty(t, expired, "answered probe never expires")
}

func TestLivenessIgnoresWallClock(t *testing.T) {
	// 注入的时钟远落后于墙钟；刚建好的连接（CreatedAt 取的是墙钟）
	// 也必须按注入时钟超时
	clock := &fakeClock{now: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	registry := NewRegistry()
	m := NewMonitor(registry, MonitorConf{
		ProbeInterval: time.Hour,
		ProbeGrace:    15 * time.Second,
		Clock:         clock.Now,
	})
	var expired []*WsConn
	m.OnExpire = func(c *WsConn) { expired = append(expired, c) }

	c := identifiedConn(t, registry, "u1")
	m.ProbeNow()
	recvFrame(t, c)

	clock.Advance(16 * time.Second)
	m.SweepNow()
	require.Len(t, expired, 1)
	assert.Same(t, c, expired[0])
}

func TestAnonymousConnectionsAreNotProbed(t *testing.T) {
	clock := newFakeClock()
	registry := NewRegistry()
	m := NewMonitor(registry, MonitorConf{Clock: clock.Now})

	anon := NewWsConn("anon", nil, 8)
	registry.Track(anon)

	m.ProbeNow()
	requireNoFrame(t, anon)
}
