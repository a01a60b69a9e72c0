// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"protoforge/internal/config"
	"protoforge/internal/handler"
	"protoforge/internal/middleware"
	"protoforge/internal/pipeline"
	"protoforge/internal/repository"
	"protoforge/internal/sanitizer"
	"protoforge/internal/service"
	"protoforge/pkg/database"
	"protoforge/pkg/embedding"
	"protoforge/pkg/es"
	"protoforge/pkg/kafka"
	"protoforge/pkg/llm"
	"protoforge/pkg/log"
	"protoforge/pkg/storage"
	"protoforge/pkg/tika"
	"protoforge/pkg/token"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "go.uber.org/automaxprocs"
)

// objectStoreTimeout 是单次对象存储调用的超时时间。
const objectStoreTimeout = 30 * time.Second

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("PROTOFORGE_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 Elasticsearch
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	var objectStore storage.ObjectStore
	switch cfg.Storage.Driver {
	case "local":
		objectStore = storage.NewLocalStore(cfg.Storage.LocalRoot)
		log.Infof("使用本地对象存储, root: %s", cfg.Storage.LocalRoot)
	default:
		storage.InitMinIO(cfg.MinIO)
		objectStore = storage.NewMinIOStore(storage.MinioClient, objectStoreTimeout)
	}

	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	templateIndex := es.NewTemplateIndex(es.ESClient, cfg.Elasticsearch.IndexName)

	vocab, err := sanitizer.LoadVocabulary(cfg.Sanitizer.VocabularyPath)
	if err != nil {
		log.Fatal("加载关键词词表失败", err)
	}
	log.Infof("关键词词表加载完成, 共 %d 个", vocab.Len())

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	templateRepository := repository.NewTemplateRepository(database.DB)
	var chatStore repository.ChatStore
	switch cfg.ChatStore.Driver {
	case "memory":
		chatStore = repository.NewMemoryChatStore(cfg.ChatStore.MemoryCapacity)
	default:
		chatStore = repository.NewRedisChatStore(database.RDB, cfg.ChatStore.TTL)
	}
	log.Infof("聊天存储: %s", cfg.ChatStore.Driver)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	userService := service.NewUserService(userRepository, jwtManager)
	retriever := service.NewTemplateRetriever(embeddingClient, templateIndex, templateRepository, objectStore, cfg.MinIO.BucketName, cfg.Retrieval)
	generator := service.NewGenerator(sanitizer.New(vocab), llmClient, retriever, cfg.LLM)
	chatService := service.NewChatService(generator, chatStore)
	templateService := service.NewTemplateService(templateRepository, objectStore, cfg.MinIO.BucketName, producer, templateIndex)

	// 6. 启动后台任务：Kafka 索引消费者与模板种子目录
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	processor := pipeline.NewProcessor(objectStore, cfg.MinIO.BucketName, tikaClient, embeddingClient, templateIndex, cfg.Embedding.Model)
	consumer := kafka.NewConsumer(cfg.Kafka, database.RDB, processor)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(bgCtx)
	}()

	seeds := pipeline.NewSeedImporter(cfg.Templates.SeedDir, templateService)
	go func() {
		n, err := seeds.ImportAll(bgCtx)
		if err != nil {
			log.Warnf("模板种子目录导入失败: %v", err)
		} else {
			log.Infof("模板种子目录导入完成, 新增 %d 个", n)
		}
		if cfg.Templates.Watch {
			if err := seeds.Watch(bgCtx); err != nil {
				log.Warnf("模板种子目录监听退出: %v", err)
			}
		}
	}()

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	userHandler := handler.NewUserHandler(userService)
	generationHandler := handler.NewGenerationHandler(chatService)
	messageHandler := handler.NewMessageHandler(chatService)
	templateHandler := handler.NewTemplateHandler(templateService)
	authMiddleware := middleware.AuthMiddleware(jwtManager, userService)
	limiter := middleware.NewRateLimiter(cfg.RateLimit)

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由
			authed := users.Group("/")
			authed.Use(authMiddleware)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.GET("/me/messages", messageHandler.MyMessages)
			}
		}

		generate := apiV1.Group("/generate")
		generate.Use(authMiddleware, limiter.Middleware())
		{
			generate.POST("", generationHandler.Generate)
			generate.GET("/ws", generationHandler.Stream)
		}

		messages := apiV1.Group("/")
		messages.Use(authMiddleware)
		{
			messages.GET("/conversations/:id/messages", messageHandler.ConversationMessages)
			messages.GET("/messages/:id", messageHandler.GetMessage)
			messages.DELETE("/messages/:id", messageHandler.DeleteMessage)
			messages.POST("/messages", messageHandler.SaveMessage)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(authMiddleware, middleware.AdminAuthMiddleware())
		{
			templates := admin.Group("/templates")
			{
				templates.POST("", templateHandler.Upload)
				templates.GET("", templateHandler.List)
				templates.DELETE("/:id", templateHandler.Delete)
				templates.POST("/:id/reindex", templateHandler.Reindex)
			}
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止后台任务并等待消费者退出
	cancelBg()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("Kafka 消费者未能在超时内退出")
	}
	log.Info("服务已优雅关闭")
}
