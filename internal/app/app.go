package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/controller"
	"tinkerfai_backend/internal/repository"
	"tinkerfai_backend/internal/service"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/configwatcher"
	"tinkerfai_backend/pkg/database"
	"tinkerfai_backend/pkg/logger"
	"tinkerfai_backend/pkg/monitoring"
	"tinkerfai_backend/pkg/security"
	"tinkerfai_backend/pkg/tracing"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const configDir = "configs"

type App struct {
	Config  *config.Config
	Router  *gin.Engine
	Store   repository.Store
	Redis   *redis.Client
	Limiter *security.RateLimiter

	tracer          *sdktrace.TracerProvider
	stop            chan struct{}
	configCallbacks []func(*config.Config)
}

// dependencies 外部依赖，测试时可替换为内存实现
type dependencies struct {
	store   repository.Store
	objects service.ObjectStore
	cache   service.SummaryCache
	cognito cognitoidentityprovideriface.CognitoIdentityProviderAPI
	chat    service.ChatModel
}

type services struct {
	auth      *service.AuthService
	ai        *service.AIService
	datasets  *service.DatasetService
	projects  *service.ProjectService
	questions *service.QuestionService
	progress  *service.ProgressService
	uploads   *service.UploadService
}

type controllers struct {
	auth     *controller.AuthController
	project  *controller.ProjectController
	question *controller.QuestionController
	upload   *controller.UploadController
	health   *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// initStore 按 store.driver 选择项目与答案的存储
func initStore(cfg *config.Config, sess *session.Session) (repository.Store, error) {
	switch cfg.Store.Driver {
	case util.StoreDynamoDB:
		store := repository.NewDynamoStore(database.InitDynamoDB(sess, &cfg.DynamoDB), cfg.DynamoDB.Table)
		if cfg.DynamoDB.CreateTable {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := store.EnsureTable(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil
	case util.StoreMySQL:
		db, err := database.InitDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return repository.NewGormStore(db), nil
	case util.StoreMemory:
		logger.Log.Warn("Using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initServices(cfg *config.Config, deps *dependencies) *services {
	s := &services{}
	s.auth = service.NewAuthService(deps.cognito, &cfg.Cognito)
	s.ai = service.NewAIService(deps.chat, &cfg.AI)
	s.datasets = service.NewDatasetService(deps.objects, deps.cache, cfg)

	curriculum := service.NewCurriculum(s.ai, s.datasets)
	s.projects = service.NewProjectService(deps.store, s.datasets)
	s.questions = service.NewQuestionService(deps.store, curriculum, s.datasets)
	s.progress = service.NewProgressService(deps.store, curriculum)
	s.uploads = service.NewUploadService(deps.store, s.datasets, s.ai)
	return s
}

func initControllers(cfg *config.Config, s *services, deps *dependencies) *controllers {
	// 仅本地存储需要由本服务接收上传
	local, _ := deps.objects.(*service.LocalStorageProvider)
	return &controllers{
		auth:     controller.NewAuthController(s.auth),
		project:  controller.NewProjectController(s.projects),
		question: controller.NewQuestionController(s.questions, s.progress),
		upload:   controller.NewUploadController(s.uploads, local, cfg.Dataset.MaxFileSize),
		health:   controller.NewHealthController(deps.store, cfg.Store.Driver),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(a.Limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func rateWindow(cfg *config.Config) time.Duration {
	return time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
}

// newApp 组装路由，不做任何网络初始化
func newApp(cfg *config.Config, deps *dependencies) *App {
	if deps.cache == nil {
		deps.cache = service.NoopSummaryCache{}
	}

	app := &App{
		Config:  cfg,
		Store:   deps.store,
		Limiter: security.NewRateLimiter(cfg.RateLimit.MaxRequests, rateWindow(cfg)),
		stop:    make(chan struct{}),
	}

	svc := initServices(cfg, deps)
	ctrls := initControllers(cfg, svc, deps)

	monitoring.Init()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, ctrls, svc)

	// 热更新日志级别和限流参数
	app.RegisterConfigCallback(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		app.Limiter.Update(newCfg.RateLimit.MaxRequests, rateWindow(newCfg))
	})
	return app
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")
	gin.SetMode(cfg.Server.Mode)

	sess, err := database.NewAWSSession(&cfg.AWS)
	if err != nil {
		logger.Log.Fatal("Failed to create AWS session", zap.Error(err))
	}

	store, err := initStore(cfg, sess)
	if err != nil {
		logger.Log.Fatal("Failed to initialize store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	objects, err := service.NewObjectStore(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize object storage", zap.Error(err))
	}

	chat, err := service.NewChatModel(&cfg.AI)
	if err != nil {
		logger.Log.Fatal("Failed to initialize chat model", zap.Error(err))
	}

	deps := &dependencies{
		store:   store,
		objects: objects,
		cognito: service.NewCognitoClient(sess),
		chat:    chat,
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.InitRedis(&cfg.Redis)
		if err != nil {
			// 缓存不可用不影响主流程
			logger.Log.Warn("Redis unavailable, dataset summaries will not be cached", zap.Error(err))
		} else {
			deps.cache = service.NewRedisSummaryCache(rdb, cfg.Redis.TTL)
		}
	}

	app := newApp(cfg, deps)
	app.Redis = rdb

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("tinkerfai-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	return app
}

func (a *App) startBackgroundTasks(ctx context.Context) {
	go a.Limiter.Run(a.stop)

	go func() {
		err := configwatcher.WatchConfig(ctx, configDir+"/config.yaml", func(cfg *config.Config) {
			for _, callback := range a.configCallbacks {
				callback(cfg)
			}
		})
		if err != nil {
			logger.Log.Error("Config watcher stopped", zap.Error(err))
		}
	}()
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, cancelWatch := context.WithCancel(context.Background())
	a.startBackgroundTasks(ctx)

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	cancelWatch()
	close(a.stop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
