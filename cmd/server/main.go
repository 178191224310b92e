package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"backend/api"
	"backend/internal/config"
	"backend/internal/infra"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/orchestrator"
	"backend/internal/orchestrator/executor"
	"backend/internal/orchestrator/store"
	"backend/internal/worker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	// 获取环境变量
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

	// 3. 初始化工作流存储
	var (
		db *gorm.DB
		st store.Store
	)
	switch cfg.Orchestrator.StoreBackend {
	case "redis":
		rdb, err := infra.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Fatal("初始化 Redis 失败", zap.Error(err))
		}
		defer infra.CloseRedis()
		st = store.NewRedisStore(rdb)

	default:
		db, err = infra.InitDatabase(&cfg.Database)
		if err != nil {
			logger.Fatal("初始化数据库失败", zap.Error(err))
		}
		defer infra.CloseDatabase()
		st, err = store.NewGormStore(db)
		if err != nil {
			logger.Fatal("初始化工作流存储失败", zap.Error(err))
		}
	}

	// 4. 加载流水线模板
	templates := orchestrator.NewTemplateRegistry()
	if err := templates.LoadTemplatesFromDirectory(cfg.Orchestrator.TemplateDir); err != nil {
		logger.Fatal("加载流水线模板失败",
			zap.String("dir", cfg.Orchestrator.TemplateDir),
			zap.Error(err),
		)
	}
	logger.Info("流水线模板加载完成", zap.Int("count", len(templates.List())))

	// 5. 注册阶段执行器
	executors := executor.NewRegistry()
	registerExecutors(executors, cfg)

	// 6. 创建编排引擎
	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Get()),
		orchestrator.WithRetryDelay(time.Duration(cfg.Orchestrator.RetryDelaySeconds) * time.Second),
	}
	var queueClient queue.Client
	if cfg.Orchestrator.QueueEnabled {
		queueClient = queue.NewClient(cfg.Redis)
		defer queueClient.Close()
		opts = append(opts, orchestrator.WithScheduler(queueClient))
	}
	engine := orchestrator.NewEngine(templates, st, executors, opts...)

	// 7. 创建路由与 HTTP 服务器
	router := api.NewRouter(&cfg.Server, engine, db)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 8. 启动服务器（goroutine）
	go func() {
		logger.Info("HTTP 服务器启动",
			zap.Int("port", cfg.Server.Port),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 启动 Worker 服务器 (goroutine)，仅在队列模式需要
	var workerServer *worker.Server
	if cfg.Orchestrator.QueueEnabled {
		workerServer = worker.NewServer(cfg.Redis, cfg.Orchestrator.WorkerConcurrency, engine, logger.Get())
		go func() {
			if err := workerServer.Run(); err != nil {
				logger.Fatal("Worker 服务器启动失败", zap.Error(err))
			}
		}()
	}

	// 9. 优雅关闭
	gracefulShutdown(server, workerServer)
}

// registerExecutors 按配置注册各智能体执行器
func registerExecutors(reg *executor.Registry, cfg *config.Config) {
	if cfg.AI.OpenAI.APIKey != "" {
		llm, err := executor.NewOpenAIExecutor(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.Model)
		if err != nil {
			logger.Fatal("初始化 OpenAI 执行器失败", zap.Error(err))
		}
		reg.Register("spec-agent", "", llm)
		reg.Register("codegen-agent", "", llm)
		reg.Register("review-agent", "", llm)
	}
	// 编译阶段走本地命令执行器
	reg.Register("build-agent", "compile", executor.NewCommandExecutor("make", []string{"build"}, ""))
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

// resolveEnvPath 尝试从当前工作目录、可执行文件目录向上查找根目录 .env
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
		if path == "" {
			return
		}
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

// gracefulShutdown 优雅关闭
func gracefulShutdown(server *http.Server, workerServer *worker.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	if workerServer != nil {
		workerServer.Shutdown()
	}

	logger.Info("服务器已安全关闭")
}
