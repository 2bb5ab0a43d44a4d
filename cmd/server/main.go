package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ragchat/api"
	"ragchat/internal/ai/embedding"
	"ragchat/internal/ai/openai"
	"ragchat/internal/config"
	"ragchat/internal/history"
	"ragchat/internal/infra"
	"ragchat/internal/logger"
	"ragchat/internal/middleware"
	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
	)

	if cfg.AI.HuggingFaceAPIKey == "" {
		logger.Fatal("未配置 HUGGINGFACE_API_KEY")
	}

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db, history.Models()...); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	// 4. 初始化模型客户端与向量索引
	embedder, err := newEmbedder(cfg)
	if err != nil {
		logger.Fatal("初始化向量化服务失败", zap.Error(err))
	}
	generator, err := openai.NewClient(&openai.Config{
		APIKey:      cfg.AI.HuggingFaceAPIKey,
		BaseURL:     cfg.AI.Generation.BaseURL,
		Model:       cfg.AI.Generation.Model,
		Temperature: cfg.AI.Generation.Temperature,
		TopP:        cfg.AI.Generation.TopP,
		Timeout:     time.Duration(cfg.AI.Generation.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("初始化生成模型失败", zap.Error(err))
	}

	index := rag.NewVectorIndex(rag.NewArtifactStore(cfg.RAG.PersistDir), embedder, cfg.AI.Embedding.Dimension)
	outcome := index.CreateOrLoad(context.Background(), cfg.RAG.Collection)
	logger.Info("向量索引就绪",
		zap.String("status", string(outcome.Status)),
		zap.Int("count", outcome.Count),
		zap.String("embedding_provider", embedder.GetProviderName()),
		zap.String("embedding_model", embedder.GetModel()),
	)

	ragService := rag.NewRAGService(
		index,
		rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		generator,
		cfg.AI.Generation.MaxTokens,
	)

	// 5. 限流
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit)
	if limiter != nil {
		go limiter.Run(5 * time.Minute)
		defer limiter.Stop()
	}

	// 6. 创建路由
	gin.SetMode(cfg.Server.Mode)
	sessionID := uuid.NewString()
	router := api.SetupRouter(api.Dependencies{
		Config:    cfg,
		RAG:       ragService,
		Store:     history.NewStore(db),
		SessionID: sessionID,
		Limiter:   limiter,
	})

	// 7. 创建 HTTP 服务器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动",
			zap.Int("port", cfg.Server.Port),
			zap.String("session_id", sessionID),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 8. 优雅关闭
	gracefulShutdown(server, db)
}

// newEmbedder 按配置选择向量化提供者
func newEmbedder(cfg *config.Config) (rag.EmbeddingProvider, error) {
	ec := cfg.AI.Embedding
	switch ec.Provider {
	case "openai":
		return rag.NewOpenAIEmbeddingProvider(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.BaseURL, ec.Model), nil
	default:
		return embedding.NewHFEmbeddingProvider(&embedding.HFEmbeddingConfig{
			Endpoint:  ec.Endpoint,
			Model:     ec.Model,
			APIKey:    cfg.AI.HuggingFaceAPIKey,
			Dimension: ec.Dimension,
			Timeout:   time.Duration(ec.TimeoutSeconds) * time.Second,
		})
	}
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 从当前工作目录、可执行文件目录向上查找 .env
func resolveEnvPath() string {
	for _, path := range collectEnvCandidates() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func collectEnvCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}
	return candidates
}

// gracefulShutdown 等待退出信号后关闭服务器与数据库
func gracefulShutdown(server *http.Server, db *gorm.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}
	if err := infra.CloseDatabase(db); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}

	logger.Info("服务器已安全关闭")
}
