package app

import (
	"context"
	"log"
	"luma_backend/internal/config"
	"luma_backend/internal/controller"
	"luma_backend/internal/repository"
	"luma_backend/internal/service"
	"luma_backend/pkg/configwatcher"
	"luma_backend/pkg/database"
	"luma_backend/pkg/logger"
	"luma_backend/pkg/monitoring"
	"luma_backend/pkg/security"
	"luma_backend/pkg/tracing"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	configCallbacks []func(*config.Config)
	tracerShutdown  func(context.Context) error
}

type repositories struct {
	user      *repository.UserRepository
	course    *repository.CourseRepository
	quota     *repository.QuotaRepository
	session   *repository.SessionRepository
	topicTest *repository.TopicTestRepository
}

type services struct {
	storage   *service.StorageService
	quota     *service.QuotaService
	auth      *service.AuthService
	user      *service.UserService
	course    *service.CourseService
	outline   *service.OutlineService
	topicTest *service.TopicTestService
	session   *service.SessionService
	analytics *service.AnalyticsService
}

type controllers struct {
	auth      *controller.AuthController
	user      *controller.UserController
	course    *controller.CourseController
	learning  *controller.LearningController
	topicTest *controller.TopicTestController
	quota     *controller.QuotaController
	analytics *controller.AnalyticsController
	health    *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:      repository.NewUserRepository(db),
		course:    repository.NewCourseRepository(db),
		quota:     repository.NewQuotaRepository(db),
		session:   repository.NewSessionRepository(db),
		topicTest: repository.NewTopicTestRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	ai := service.NewAIService(cfg.AI)

	s.storage = service.NewStorageService(cfg)
	s.quota = service.NewQuotaService(repos.quota, cfg, db)
	s.auth = service.NewAuthService(repos.user, s.quota, cfg)
	s.user = service.NewUserService(repos.user)
	s.course = service.NewCourseService(repos.course, s.storage)
	s.outline = service.NewOutlineService(repos.course, s.quota, ai, service.NewPDFExtractor(s.storage), rdb, db)
	s.topicTest = service.NewTopicTestService(repos.topicTest, repos.session, repos.course, s.quota, ai, db)
	s.session = service.NewSessionService(repos.session, repos.course, s.topicTest, s.quota, ai, db)
	s.analytics = service.NewAnalyticsService(repos.quota, repos.session, repos.user, db)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:      controller.NewAuthController(s.auth),
		user:      controller.NewUserController(s.user),
		course:    controller.NewCourseController(s.course, s.outline),
		learning:  controller.NewLearningController(s.session),
		topicTest: controller.NewTopicTestController(s.topicTest),
		quota:     controller.NewQuotaController(s.quota),
		analytics: controller.NewAnalyticsController(s.analytics),
		health:    controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 启动月度配额重置扫描。台账各自带到期时间，
// 扫描间隔内多次执行也是幂等的。
func (a *App) startBackgroundTasks(s *services) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		for range ticker.C {
			count, err := s.quota.RunMonthlyReset(time.Now())
			if err != nil {
				logger.Log.Error("quota reset sweep error", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Log.Info("quota reset sweep finished", zap.Int("reset", count))
			}
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Redis只承担旁路缓存，连不上则降级为直查数据库
	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Warn("Redis不可用，缓存降级", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("luma-web", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracerShutdown = tp.Shutdown
	}

	app.registerRoutes(router, controllers, repos, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
		router.Static("/api/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services)

	// 热加载配置，目前只下发给注册过回调的组件
	go func() {
		err := configwatcher.Watch("configs/config.yaml", func(newCfg *config.Config) {
			app.Config = newCfg
			for _, cb := range app.configCallbacks {
				cb(newCfg)
			}
		})
		if err != nil {
			logger.Log.Warn("配置监听未启动", zap.Error(err))
		}
	}()

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	log.Println("Server exiting")
}
