package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
)

type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

type MongoManager struct {
	mu        sync.RWMutex
	client    *mongo.Client
	database  string
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr MongoManager

func Manager() *MongoManager { return &globalMgr }

// StartAsync: 一直运行到 ctx.Done()；首次连上时 close readyCh，掉线自动重连
func StartAsync(ctx context.Context, cfg *Config) {
	if globalMgr.readyCh == nil {
		globalMgr.readyCh = make(chan struct{})
	}
	globalMgr.database = cfg.Database

	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second // 健康检查周期
			failThresh  = 3                // 连续失败阈值
		)

		for {
			// ===== 连接阶段（带退避重试） =====
			attempt := 0
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				cli, err := connect(ctx, cfg)
				if err == nil {
					globalMgr.mu.Lock()
					globalMgr.client = cli
					globalMgr.mu.Unlock()

					// 只在“首次”成功时通知就绪
					globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
					logger.Infof("[mgo] connected uri=%s db=%s", cfg.URI, cfg.Database)
					break
				}

				globalMgr.lastErr.Store(err)

				// 退避 + 抖动
				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				} else {
					attempt++
				}
				jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
				logger.Warnf("[mgo] connect failed, retry in %v: %v", backoff+jitter, err)

				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff + jitter):
				}
			}

			// ===== 健康检查阶段 =====
			fails := 0
			ticker := time.NewTicker(healthEvery)
			for fails < failThresh {
				select {
				case <-ctx.Done():
					ticker.Stop()
					return
				case <-ticker.C:
					pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					err := globalMgr.Client().Ping(pingCtx, readpref.Primary())
					cancel()
					if err != nil {
						fails++
						logger.Warnf("[mgo] health ping失败 (%d/%d): %v", fails, failThresh, err)
					} else {
						fails = 0
					}
				}
			}
			ticker.Stop()
			logger.Errorf("[mgo] health check exceeded threshold, reconnecting")
		}
	}()
}

// WaitReady 阻塞到首次连接成功或 ctx 结束
func WaitReady(ctx context.Context, m *MongoManager) error {
	select {
	case <-ctx.Done():
		if err, ok := m.lastErr.Load().(error); ok {
			return errors.Wrap(err, "mongo never became ready")
		}
		return ctx.Err()
	case <-m.readyCh:
		return nil
	}
}

func (m *MongoManager) Client() *mongo.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *MongoManager) Database() *mongo.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil
	}
	return m.client.Database(m.database)
}

func connect(ctx context.Context, cfg *Config) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cli, err := mongo.Connect(connCtx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(connCtx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}
