package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrCobi/HemerotecaDigital-sub002/global"
	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
	mid "github.com/MrCobi/HemerotecaDigital-sub002/middleware"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/mgo"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/relay"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/relay/handlers"
	"github.com/MrCobi/HemerotecaDigital-sub002/service/storage"
	"github.com/MrCobi/HemerotecaDigital-sub002/tools/ids"
	"github.com/MrCobi/HemerotecaDigital-sub002/tools/safe"
)

func main() {
	global.Load()
	conf := &global.Config

	ids.SetNodeID(conf.NodeID)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// redis 在线镜像：连不上也照常起服务，镜像降级关闭
	presenceMirror := true
	if err := storage.InitRedis(storage.Config{
		Addr: conf.RedisAddr, Password: conf.RedisPassword, DB: conf.RedisDB,
	}); err != nil {
		logger.Warnf("[main] redis unavailable, presence mirror disabled: %v", err)
		presenceMirror = false
	}

	// mongo：异步连，起服务前等首次就绪
	mgo.StartAsync(rootCtx, &mgo.Config{
		URI:         conf.MongoURI,
		Database:    conf.MongoDatabase,
		MaxPoolSize: 20,
	})
	readyCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	err := mgo.WaitReady(readyCtx, mgo.Manager())
	cancel()
	if err != nil {
		logger.Errorf("[main] mongo not ready: %v", err)
		return
	}

	store := storage.NewMongoStore(mgo.Manager().Database())
	idxCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	if err := store.EnsureIndexes(idxCtx); err != nil {
		logger.Warnf("[main] ensure indexes: %v", err)
	}
	cancel()

	srv := relay.NewServer(relay.Options{
		JWTSecret: conf.JWTSecret,
		Monitor: relay.MonitorConf{
			ProbeInterval: conf.ProbeInterval,
			ProbeGrace:    conf.ProbeGrace,
			ActivityPing:  conf.ActivityPing,
		},
		OriginAllowed:  conf.OriginAllowed,
		PresenceMirror: presenceMirror,
	}, store)
	handlers.RegisterAll(srv.Disp())

	safe.Go(func() { srv.RunMonitor(rootCtx) })

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	mid.POST(r, "/webhook/message", srv.HandleWebhook, mid.RouteOpt{Secret: conf.WebhookSecret})
	mid.GET(r, "/online", srv.HandleOnline, mid.RouteOpt{Secret: conf.WebhookSecret})
	mid.GET(r, "/presence/:userId", srv.HandlePresence, mid.RouteOpt{Secret: conf.WebhookSecret})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: r,
	}

	safe.Go(func() {
		logger.Infof("[main] relay listening on :%d (api=%s)", conf.Port, conf.APIBaseURL)
		if serr := httpSrv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Errorf("[main] http server: %v", serr)
			stop()
		}
	})

	<-rootCtx.Done()
	logger.Infof("[main] shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutCtx)
	srv.Shutdown()
}
