// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"recetario-go/internal/config"
	"recetario-go/internal/handler"
	"recetario-go/internal/middleware"
	"recetario-go/internal/pipeline"
	"recetario-go/internal/repository"
	"recetario-go/internal/service"
	"recetario-go/pkg/database"
	"recetario-go/pkg/es"
	"recetario-go/pkg/imagegen"
	"recetario-go/pkg/imagesearch"
	"recetario-go/pkg/kafka"
	"recetario-go/pkg/llm"
	"recetario-go/pkg/log"
	"recetario-go/pkg/metrics"
	"recetario-go/pkg/storage"
	"recetario-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置，缺少必需项时直接退出
	cfg := config.MustLoad(*configPath)

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化数据库、Redis 和对象存储
	db, err := database.NewMySQL(cfg.Database.MySQL)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	blobs, err := storage.NewMinioStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}

	m := metrics.New()

	// 4. 可选的搜索索引与事件管道
	var (
		events    service.EventPublisher
		searcher  service.RecipeSearcher
		processor *pipeline.Processor
		producer  *kafka.Producer
	)
	if cfg.Elasticsearch.Enabled {
		index, err := es.NewRecipeIndex(rootCtx, cfg.Elasticsearch)
		if err != nil {
			log.Fatal("Elasticsearch 初始化失败", err)
		}
		searcher = index
		processor = pipeline.NewProcessor(index)
	}
	switch {
	case cfg.Kafka.Enabled:
		producer = kafka.NewProducer(cfg.Kafka)
		events = producer
		if processor != nil {
			consumer := kafka.NewConsumer(cfg.Kafka, processor)
			go consumer.Run(rootCtx)
		}
	case processor != nil:
		events = pipeline.NewDirectPublisher(processor)
	}

	// 5. 初始化 Repository、外部客户端与 Service
	recipeRepo := repository.NewRecipeRepository(db)
	conversationRepo := repository.NewConversationRepository(rdb, cfg.Chat)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.SessionExpireHours)
	llmClient := llm.NewClient(cfg.LLM)
	imageGenClient := imagegen.NewClient(cfg.ImageGen)
	imageSearchClient := imagesearch.NewClient(cfg.ImageSearch)

	recipeService := service.NewRecipeService(recipeRepo, blobs, imageGenClient, imageSearchClient, events, m, cfg.Recipes)
	if err := recipeService.Load(rootCtx); err != nil {
		log.Fatal(service.UserMessage(service.ActionLoad, err), err)
	}
	if processor != nil {
		go func() {
			if err := processor.Reindex(rootCtx, recipeService.List()); err != nil {
				log.Error("重建搜索索引失败", err)
			}
		}()
	}
	chatService := service.NewChatService(llmClient, recipeService, conversationRepo, m, cfg.LLM.Prompt.FailureText)
	searchService := service.NewSearchService(searcher, recipeService)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(m), gin.Recovery())

	limiter := middleware.NewSessionLimiter(cfg.Chat.PromptsPerMinute, cfg.Chat.PromptBurst)
	recipeHandler := handler.NewRecipeHandler(recipeService, cfg.Recipes.MaxUploadMB)
	conversationHandler := handler.NewConversationHandler(chatService, jwtManager)
	chatHandler := handler.NewChatHandler(chatService, jwtManager, limiter)

	// 7. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		recipes := apiV1.Group("/recipes")
		{
			recipes.GET("", recipeHandler.List)
			recipes.POST("", recipeHandler.Create)
			recipes.POST("/refresh", recipeHandler.Refresh)
			recipes.GET("/search", handler.NewSearchHandler(searchService).Search)
			recipes.PUT("/:id", recipeHandler.Update)
			recipes.DELETE("/:id", recipeHandler.Delete)
		}

		chat := apiV1.Group("/chat")
		{
			chat.POST("/sessions", conversationHandler.CreateSession)

			// 需要会话令牌的路由
			authed := chat.Group("")
			authed.Use(middleware.SessionAuth(jwtManager))
			{
				authed.GET("/messages", conversationHandler.GetConversation)
				authed.POST("/messages", middleware.RateLimit(limiter), chatHandler.SendMessage)
				authed.POST("/messages/:messageId/decision", chatHandler.Decide)
			}
		}
	}
	r.GET("/chat/:token", chatHandler.Handle)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: corsHandler.Handler(r),
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者，并刷新尚未发送的事件
	cancelRoot()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	if err := rdb.Close(); err != nil {
		log.Errorf("关闭 Redis 连接失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
