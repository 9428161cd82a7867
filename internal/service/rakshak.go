package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/himanshuu932/rakshak/internal/config"
	"github.com/himanshuu932/rakshak/internal/consumer"
	"github.com/himanshuu932/rakshak/internal/database"
	"github.com/himanshuu932/rakshak/internal/engine"
	"github.com/himanshuu932/rakshak/internal/httpapi"
	"github.com/himanshuu932/rakshak/internal/mqtt"
	"github.com/himanshuu932/rakshak/internal/position"
	"github.com/himanshuu932/rakshak/internal/reconcile"
	"github.com/himanshuu932/rakshak/internal/repository"
	"github.com/himanshuu932/rakshak/internal/responder"
	"github.com/himanshuu932/rakshak/internal/store"
	"github.com/himanshuu932/rakshak/internal/transport"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RakshakService 位置检查服务
// 按角色装配组件：controller 发起检查，responder 自动应答，both 两者兼备
type RakshakService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	contactsRepo *repository.ContactsRepository
	trustedRepo  *repository.TrustedRepository
	settingsRepo *repository.SettingsRepository
	locations    *reconcile.Store

	engine          *engine.Engine
	responder       *responder.Responder
	gatewayConsumer *consumer.GatewayConsumer
	eventConsumer   *consumer.EventConsumer
	httpServer      *http.Server
}

// NewRakshakService 创建位置检查服务
func NewRakshakService(cfg *config.Config, logger *zap.Logger) (*RakshakService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化 Redis（本地 KV + 事件流）
	redisClient := store.NewRedisClient(&cfg.Redis)
	if err := store.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 创建 Repository
	contactsRepo := repository.NewContactsRepository(db, logger)
	trustedRepo := repository.NewTrustedRepository(db, logger)
	settingsRepo := repository.NewSettingsRepository(db, logger)

	// 双后端位置存储
	locations := reconcile.NewStore(store.NewRedisKV(redisClient), settingsRepo, logger)

	s := &RakshakService{
		config:       cfg,
		logger:       logger,
		db:           db,
		redisClient:  redisClient,
		contactsRepo: contactsRepo,
		trustedRepo:  trustedRepo,
		settingsRepo: settingsRepo,
		locations:    locations,
	}

	// 短信出站通道（MQTT 网关或 HTTP 网关）
	sender, err := s.buildSender()
	if err != nil {
		return nil, err
	}

	// 角色组件
	if cfg.Role == config.RoleController || cfg.Role == config.RoleBoth {
		s.engine = engine.NewEngine(contactsRepo, locations, sender, engine.Options{
			PollInterval:   time.Duration(cfg.Engine.PollIntervalMs) * time.Millisecond,
			PollTimeout:    time.Duration(cfg.Engine.PollTimeoutMs) * time.Millisecond,
			ReconcileDelay: time.Duration(cfg.Engine.ReconcileDelayMs) * time.Millisecond,
		}, logger)
	}
	if cfg.Role == config.RoleResponder || cfg.Role == config.RoleBoth {
		provider := position.NewHTTPProvider(cfg.Position.BaseURL, logger)
		s.responder = responder.NewResponder(trustedRepo, provider, sender, position.Options{
			HighAccuracy: cfg.Position.HighAccuracy,
			TimeoutMs:    cfg.Position.TimeoutMs,
			MaxAgeMs:     cfg.Position.MaxAgeMs,
		}, logger)
	}

	// 入站通道：MQTT 网关消费者 + 事件流消费者
	if s.mqttClient != nil {
		s.gatewayConsumer = consumer.NewGatewayConsumer(s.mqttClient, redisClient, contactsRepo, cfg, logger)
	}
	s.eventConsumer = consumer.NewEventConsumer(redisClient, s.engine, s.responder, cfg, logger)

	// HTTP API
	router := httpapi.NewRouter(logger)
	if s.engine != nil {
		router.RegisterContactRoutes(httpapi.NewContactsHandler(contactsRepo, s.engine, logger))
	}
	router.RegisterTrustedRoutes(httpapi.NewTrustedHandler(trustedRepo, logger))
	router.RegisterHealth()
	s.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	return s, nil
}

// buildSender 按配置构建短信出站通道，MQTT 通道顺带建立网关连接
func (s *RakshakService) buildSender() (transport.SMSSender, error) {
	switch s.config.SMS.Transport {
	case config.SMSTransportMQTT:
		mqttClient, err := mqtt.NewClient(&s.config.MQTT, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		s.mqttClient = mqttClient
		return transport.NewMQTTSender(mqttClient, s.config.SMS.OutboundTopic, s.config.SMS.GatewayID, 1, s.logger), nil
	case config.SMSTransportHTTP:
		return transport.NewHTTPSender(s.config.SMS.HTTPBaseURL, s.config.SMS.HTTPAPIKey, s.logger), nil
	default:
		return nil, fmt.Errorf("unsupported SMS transport: %s", s.config.SMS.Transport)
	}
}

// Start 启动服务（阻塞在事件消费循环上，ctx 取消后返回）
func (s *RakshakService) Start(ctx context.Context) error {
	s.logger.Info("Starting rakshak service",
		zap.String("role", s.config.Role),
		zap.String("sms_transport", s.config.SMS.Transport),
		zap.String("http_addr", s.config.HTTPAddr),
	)

	// HTTP API
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// MQTT 入站订阅
	if s.gatewayConsumer != nil {
		if err := s.gatewayConsumer.Start(); err != nil {
			return err
		}
	}

	// 事件流消费（阻塞）
	return s.eventConsumer.Start(ctx)
}

// Stop 停止服务并释放资源
func (s *RakshakService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping rakshak service")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if s.gatewayConsumer != nil {
		s.gatewayConsumer.Stop()
	}
	if s.engine != nil {
		s.engine.Close()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Warn("Redis close error", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Database close error", zap.Error(err))
	}

	return nil
}
