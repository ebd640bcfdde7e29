package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mekai/workforce/agent"
	"github.com/mekai/workforce/api/handlers"
	"github.com/mekai/workforce/chat"
	"github.com/mekai/workforce/config"
	"github.com/mekai/workforce/employee"
	"github.com/mekai/workforce/internal/metrics"
	"github.com/mekai/workforce/knowledge"
	"github.com/mekai/workforce/llm"
	llmfactory "github.com/mekai/workforce/llm/factory"
	"github.com/mekai/workforce/llm/providers"
	"github.com/mekai/workforce/memory"
	"github.com/mekai/workforce/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装并运行全部服务组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db            *gorm.DB
	memoryStore   memory.Store
	employeeStore employee.Store
	chatService   *chat.Service
	collector     *metrics.Collector

	httpServer    *http.Server
	metricsServer *http.Server
}

// NewServer 按配置装配全部依赖
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector(),
	}

	if err := s.initStores(); err != nil {
		return nil, err
	}
	s.initChatService()
	s.initHTTPServers()
	return s, nil
}

// initStores 初始化持久层。gorm 类型需要数据库；
// memory / redis 类型在无数据库时员工与知识库退化为内存存储。
func (s *Server) initStores() error {
	storeType := memory.StoreType(s.cfg.Memory.Type)

	if storeType == memory.StoreTypeGorm {
		db, err := openDatabase(s.cfg.Database, s.logger)
		if err != nil {
			return fmt.Errorf("gorm memory store requires a database: %w", err)
		}
		s.db = db
	}

	memStore, err := memory.NewStore(memory.StoreConfig{
		Type:       storeType,
		MaxHistory: s.cfg.Chat.MaxHistory,
		Redis: memory.RedisStoreConfig{
			Addr:      s.cfg.Redis.Addr,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Redis.KeyPrefix,
		},
	}, s.db, s.logger)
	if err != nil {
		return fmt.Errorf("init memory store: %w", err)
	}
	s.memoryStore = memStore

	if s.db != nil {
		empStore, err := employee.NewGormStore(s.db)
		if err != nil {
			return fmt.Errorf("init employee store: %w", err)
		}
		s.employeeStore = empStore
	} else {
		s.logger.Info("No database configured, using in-memory employee store")
		s.employeeStore = employee.NewMemoryStore()
	}
	return nil
}

// initChatService 装配 agent 缓存、知识检索和对话编排器
func (s *Server) initChatService() {
	var knowledgeStore knowledge.Store
	if s.db != nil {
		ks, err := knowledge.NewGormStore(s.db, s.logger)
		if err != nil {
			s.logger.Warn("Knowledge store unavailable, retrieval degraded", zap.Error(err))
			knowledgeStore = knowledge.NewMemoryStore()
		} else {
			knowledgeStore = ks
		}
	} else {
		knowledgeStore = knowledge.NewMemoryStore()
	}

	retriever := knowledge.NewRetriever(knowledgeStore, s.logger)

	s.chatService = chat.NewService(
		s.employeeStore,
		s.memoryStore,
		agent.NewMemoryCache(),
		s.providerFactory(),
		retriever,
		s.collector,
		s.logger,
		chat.Options{
			HistoryLimit:    s.cfg.Chat.HistoryLimit,
			MaxMessageLen:   s.cfg.Chat.MaxMessageLength,
			MaxIterations:   s.cfg.Chat.MaxToolIterations,
			RetrievalPolicy: agent.RetrievalPolicy(s.cfg.Chat.RetrievalPolicy),
		},
	)
}

// providerFactory 按员工配置构建带重试的 LLM Provider
func (s *Server) providerFactory() chat.ProviderFactory {
	return func(emp types.EmployeeConfig) (llm.Provider, error) {
		name := emp.Provider
		if name == "" {
			name = s.cfg.LLM.DefaultProvider
		}

		pc := s.cfg.LLM.Providers[name]
		model := emp.Model
		if model == "" {
			model = pc.Model
		}

		retry := providers.DefaultRetryConfig()
		if s.cfg.LLM.MaxRetries > 0 {
			retry.MaxRetries = s.cfg.LLM.MaxRetries
		}

		return llmfactory.NewRetryingProvider(name, llmfactory.ProviderConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   model,
			Timeout: s.cfg.LLM.Timeout,
		}, retry, s.logger)
	}
}

// initHTTPServers 构建业务与指标两个 HTTP 服务器
func (s *Server) initHTTPServers() {
	healthH := handlers.NewHealthHandler(Version, s.logger)
	healthH.RegisterCheck(handlers.CheckFunc{
		CheckName: "memory_store",
		Fn:        s.memoryStore.Ping,
	})
	if s.db != nil {
		healthH.RegisterCheck(handlers.CheckFunc{
			CheckName: "database",
			Fn: func(ctx context.Context) error {
				sqlDB, err := s.db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		})
	}

	mux := handlers.NewRouter(
		handlers.NewChatHandler(s.chatService, s.logger),
		handlers.NewConversationHandler(s.memoryStore, s.logger),
		handlers.NewEmployeeHandler(s.employeeStore, s.chatService.InvalidateAgent, s.logger),
		healthH,
	)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		Metrics(s.collector),
		CORS(),
	}
	if s.cfg.Server.RateLimit > 0 {
		middlewares = append(middlewares, RateLimiter(s.cfg.Server.RateLimit, s.logger))
	}
	if s.cfg.Server.APIKey != "" {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKey, s.logger))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      Chain(mux, middlewares...),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", s.collector.Handler())
	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler: metricsMux,
	}
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start 启动业务与指标服务器
func (s *Server) Start() error {
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("Metrics server listening", zap.String("addr", s.metricsServer.Addr))
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown 阻塞等待退出信号并优雅关闭
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	s.logger.Info("Shutting down", zap.String("signal", sig.String()))

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.logger.Error("Metrics server shutdown failed", zap.Error(err))
	}
	if err := s.memoryStore.Close(); err != nil {
		s.logger.Error("Memory store close failed", zap.Error(err))
	}
}
