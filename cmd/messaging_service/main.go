package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"profitum_messaging/internal/messaging/app"
	"profitum_messaging/internal/messaging/repository"
	"profitum_messaging/internal/messaging/router"
	"profitum_messaging/pkg/config"
	"profitum_messaging/pkg/database"
	"profitum_messaging/pkg/logger"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.MessagingService, config.EnvConfig.MessagingServiceLogPath)
	cfg := config.LoadConfig[config.Messaging](config.EnvConfig.MessagingService, config.EnvConfig.MessagingServiceYAMLPath)

	ctx := context.Background()

	// mongo holds conversations and messages
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.MongoSQL.RetryCount,
			RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval),
		},
		cfg.MongoSQL.Database)
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to mongoDB database after retries",
			zap.String("address", fmt.Sprintf("[%s]", uri)),
			zap.Error(err),
		)
	}
	defer mongo.Close(ctx)

	// redis carries the realtime channels and presence TTLs
	masterName, sentinel := config.GetRedisSetting()
	redisClient, err := database.NewRedisClient(masterName, sentinel, cfg.Redis.RedisDB)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
	}

	// the participant directory lives in the main business database
	pgConn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
	pgPool, err := database.NewDatabaseConnection(database.Connection{
		ConnectStr:    pgConn,
		RetryCount:    cfg.Postgres.RetryCount,
		RetryInterval: time.Duration(cfg.Postgres.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect postgres err : %v", err))
	}
	defer pgPool.Close()

	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:      cfg.MinIO.Endpoint,
		User:          cfg.MinIO.User,
		Password:      cfg.MinIO.Password,
		BucketName:    cfg.MinIO.Bucket,
		UseSSL:        cfg.MinIO.UseSSL,
		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: time.Duration(cfg.MinIO.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect minio err : %v", err))
	}

	rabbitConn, err := database.ConnectRabbitMQWithRetry(database.Connection{
		ConnectStr:    cfg.RabbitMQ.URL,
		RetryCount:    cfg.RabbitMQ.RetryCount,
		RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect rabbitmq err : %v", err))
	}
	defer rabbitConn.Close()

	rabbitCh, err := database.GetRabbitMQChannelWithRetry(rabbitConn, cfg.RabbitMQ.RetryCount, time.Duration(cfg.RabbitMQ.RetryInterval))
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("open rabbitmq channel err : %v", err))
	}

	kafkaWriter, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Kafka.Topic,
		RetryCount:    cfg.Kafka.RetryCount,
		RetryInterval: time.Duration(cfg.Kafka.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect kafka err : %v", err))
	}
	defer kafkaWriter.Close()

	convRepo := repository.NewMongoConversationRepository(mongo.Database)
	msgRepo := repository.NewMongoMessageRepository(mongo.Database)
	participantRepo := repository.NewPGParticipantRepository(pgPool)
	attachmentRepo := repository.NewMinIOAttachmentRepository(minioClient)
	pubsub := repository.NewRedisPubSub(redisClient)
	presenceRepo := repository.NewRedisPresenceRepository(redisClient)
	audit := repository.NewKafkaAuditProducer(kafkaWriter)

	notifier, err := repository.NewRabbitNotifier(database.NewRabbitRepository(rabbitCh), cfg.RabbitMQ.Exchange)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("declare notification exchange err : %v", err))
	}

	messagingUC := app.NewMessagingUseCase(
		convRepo,
		msgRepo,
		participantRepo,
		attachmentRepo,
		pubsub,
		presenceRepo,
		notifier,
		audit,
		cfg.SendTimeout,
		cfg.MaxAttachmentSize,
	)

	backoff := app.ExponentialBackoff{Base: time.Second, Max: 30 * time.Second}
	handler := app.NewMessagingWebsocketHandler(messagingUC, backoff, cfg.FirstPageSize)

	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.MessagingServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))

	router.RegisterRoutes(r, handler)

	port := ":" + cfg.Port
	log.Printf("Messaging Service listening on %s", port)
	if err := r.Listen(port); err != nil {
		log.Fatalf("Failed to start Fiber: %v", err)
	}
}
