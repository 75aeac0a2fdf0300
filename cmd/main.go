package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/internal/api"
	"github.com/Gopher0727/TimeChat/internal/handler"
	"github.com/Gopher0727/TimeChat/internal/pkg/blob"
	"github.com/Gopher0727/TimeChat/internal/pkg/gateway"
	"github.com/Gopher0727/TimeChat/internal/pkg/kafka"
	"github.com/Gopher0727/TimeChat/internal/pkg/lock"
	"github.com/Gopher0727/TimeChat/internal/pkg/redis"
	"github.com/Gopher0727/TimeChat/internal/pkg/workerpool"
	"github.com/Gopher0727/TimeChat/internal/service"
	"github.com/Gopher0727/TimeChat/internal/storage"
	"github.com/Gopher0727/TimeChat/middleware/jwt"
	logger "github.com/Gopher0727/TimeChat/middleware/log"
	"github.com/Gopher0727/TimeChat/utils/ratelimit"
	"github.com/Gopher0727/TimeChat/utils/snowflake"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer appLogger.Close()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	zl := appLogger.Logger

	// 协程池：异步发布领域事件、写在线状态
	pool := workerpool.New(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, zl.Named("workerpool"))
	pool.Start()

	repos, err := storage.Open(&cfg.Storage, zl)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repos.Close()

	ids, err := snowflake.NewGenerator(cfg.Snowflake.WorkerID)
	if err != nil {
		return fmt.Errorf("init snowflake: %w", err)
	}

	// Redis 可选：在线状态、分布式限流与房间锁
	var (
		presence redis.PresenceStore
		limiter  ratelimit.Limiter
		locker   lock.Locker
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer rdb.Close()
		presence = rdb
		limiter = ratelimit.NewRedisLimiter(rdb.GetClient(), zl.Named("ratelimit"), cfg.RateLimit.FailOpen)
		locker = lock.NewRedisLocker(rdb.GetClient(), 10*time.Second)
	} else {
		zl.Warn("redis disabled, using in-process limiter and locks")
		local := ratelimit.NewLocalLimiter(10 * time.Minute)
		go sweepLimiter(ctx, local)
		limiter = local
		locker = lock.NewKeyedMutex()
	}

	var events kafka.Publisher = kafka.Nop{}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			zl.Warn("kafka unavailable, domain events disabled", zap.Error(err))
		} else {
			events = kafka.NewAsync(producer, pool.TrySubmit, zl.Named("kafka"))
		}
	}
	defer func() {
		pool.Stop()
		_ = events.Close()
	}()

	blobs, err := blob.NewLocalStore(&cfg.Upload)
	if err != nil {
		return fmt.Errorf("init upload store: %w", err)
	}

	deps := service.Deps{
		Users:    repos.Users,
		Chats:    repos.Chats,
		Messages: repos.Messages,
		Invites:  repos.Invites,
		Locker:   locker,
		IDs:      ids,
		Events:   events,
		Logger:   zl.Named("service"),
	}
	tokens := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.RefreshHours)

	codes := service.NewCodeGenerator(repos.Invites, cfg.Invite, zl.Named("codegen"))
	if err := codes.Refresh(ctx); err != nil {
		zl.Warn("failed to load active invite codes", zap.Error(err))
	}
	chatService := service.NewChatService(deps, cfg.Chat)
	inviteService := service.NewInviteService(deps, cfg.Invite, chatService, codes)
	chatService.OnSweep(inviteService.RefreshCodes)
	userService := service.NewUserService(deps, presence, cfg.Websocket.PresenceTTL)
	authService := service.NewAuthService(deps, tokens)

	router := gateway.NewRouter(chatService,
		gateway.WithPresence(userService),
		gateway.WithSubmitter(pool.TrySubmit),
		gateway.WithLogger(zl.Named("gateway")),
	)
	chatService.OnMembershipChange(router)
	messageService := service.NewMessageService(deps, blobs, router)
	send := func(ctx context.Context, userID, chatID, content string) error {
		_, err := messageService.Send(ctx, userID, chatID, service.TextInput{Content: content})
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	mw := api.NewMiddlewareManager(tokens, limiter, appLogger.Named("http"), &cfg.RateLimit)
	engine := api.NewEngine(mw, api.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		User:    handler.NewUserHandler(userService),
		Chat:    handler.NewChatHandler(chatService, inviteService, router, zl.Named("chat")),
		Invite:  handler.NewInviteHandler(inviteService, chatService, router),
		Message: handler.NewMessageHandler(messageService, cfg.Upload.MaxBytes),
		Socket:  gateway.NewHandler(router, tokens, send, cfg.Websocket, zl.Named("ws")),
	}, api.Uploads{Dir: cfg.Upload.Dir, Prefix: cfg.Upload.PublicPrefix})

	sweeper := service.NewSweeper(chatService, cfg.Cleanup.Interval, cfg.Cleanup.StartupDelay, zl.Named("sweeper"))
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		zl.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		zl.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown incomplete", zap.Error(err))
	}
	router.Shutdown()
	<-sweeperDone
	return nil
}

// sweepLimiter drops idle in-process rate limit buckets.
func sweepLimiter(ctx context.Context, l *ratelimit.LocalLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
