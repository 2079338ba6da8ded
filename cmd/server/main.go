package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airspace/internal/broker"
	"airspace/internal/chat"
	"airspace/internal/clock"
	"airspace/internal/config"
	"airspace/internal/db"
	"airspace/internal/events"
	clog "airspace/internal/log"
	"airspace/internal/media"
	"airspace/internal/mw"
	"airspace/internal/server"
	"airspace/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库与可选的 redis/amqp，并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		b        broker.Broker = broker.NewHub()
		throttle mw.Throttle
	)
	if rdb := newRedisClient(ctx, cfg); rdb != nil {
		defer rdb.Close()
		rb, err := broker.NewRedis(ctx, rdb, broker.DefaultChannel, broker.NewHub())
		if err != nil {
			log.Fatal().Err(err).Msg("redis broker")
		}
		b = rb
		throttle = mw.NewRedisThrottle(rdb, mw.ActivityWindow)
	}

	sinks := events.Multi{events.Metrics{}}
	if cfg.AMQPURL != "" {
		pub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// 事件只是旁路输出，连不上不阻止启动
			log.Error().Err(err).Msg("amqp dial, events will stay local")
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	configs := service.NewSiteConfigs(gdb)
	ledger := service.NewLedger(gdb, clock.System{}, cfg.Location(), configs)
	msgs := service.NewMessageService(gdb, ledger)
	store := media.NewDiskStore(cfg.MediaRoot, cfg.MediaURL)
	limiter := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	defer limiter.Stop()

	r := server.SetupRouter(server.Deps{
		Config:      cfg,
		DB:          gdb,
		Broker:      b,
		Users:       service.NewUserService(gdb, cfg),
		Rooms:       service.NewRoomService(gdb, b),
		Messages:    msgs,
		Profiles:    service.NewProfileService(gdb),
		Ledger:      ledger,
		SiteConfigs: configs,
		Chat:        chat.NewService(msgs, b, sinks, store, cfg.Location()),
		Throttle:    throttle,
		Limiter:     limiter,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("timezone", cfg.Timezone).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	if err := b.Close(); err != nil {
		log.Warn().Err(err).Msg("broker close")
	}
}

// newRedisClient 在未配置或连不上时返回 nil，此时退回单实例模式。
func newRedisClient(ctx context.Context, cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Error().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping, running single instance")
		_ = rdb.Close()
		return nil
	}
	return rdb
}
