package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"bloodhub/internal/actortoken"
	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/events"
	"bloodhub/pkg/location"
	"bloodhub/pkg/queue"
	"bloodhub/pkg/storage"
	"bloodhub/pkg/store"
	"bloodhub/services/bloodhub/internal/app"
	"bloodhub/services/bloodhub/internal/config"
	"bloodhub/services/bloodhub/internal/server"
	"bloodhub/services/bloodhub/internal/stockalert"
	"gopkg.in/yaml.v3"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	tokenLeeway, err := config.ParseDuration("tokenLeeway", cfg.TokenLeeway)
	if err != nil {
		log.Fatalf("failed to parse token leeway: %v", err)
	}
	alertWindow, err := config.ParseDuration("lowStockAlertWindow", cfg.LowStockAlertWindow)
	if err != nil {
		log.Fatalf("failed to parse low stock alert window: %v", err)
	}
	reportURLTTL, err := config.ParseDuration("reportURLTTL", cfg.ReportURLTTL)
	if err != nil {
		log.Fatalf("failed to parse report url ttl: %v", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	hierarchy := location.Default()
	if cfg.LocationsPath != "" {
		hierarchy, err = location.Load(cfg.LocationsPath)
		if err != nil {
			log.Fatalf("failed to load locations: %v", err)
		}
	}

	appCfg := app.Config{
		Store:             st,
		Locations:         hierarchy,
		ReportURLTTL:      reportURLTTL,
		LowStockThreshold: cfg.LowStockThreshold,
	}
	if cfg.RedisAddr != "" {
		deliveries, err := queue.NewRedisDeliveryQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.NotifyStream,
		})
		if err != nil {
			log.Fatalf("failed to init delivery queue: %v", err)
		}
		defer deliveries.Close()
		appCfg.Deliveries = deliveries

		throttle := stockalert.NewThrottle(cfg.RedisAddr, cfg.RedisPassword, "bloodhub:stockalert", alertWindow)
		defer throttle.Close()
		appCfg.StockAlerts = throttle
	} else {
		slog.Warn("redisAddr not set; external deliveries and stock alert throttling are disabled")
	}

	publisher, err := openPublisher(cfg)
	if err != nil {
		log.Fatalf("failed to init event publisher: %v", err)
	}
	publisher = events.NewAsyncPublisher(publisher, 1024, 5*time.Second, slog.Default())
	defer publisher.Close()
	appCfg.Events = publisher

	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init report storage: %v", err)
		}
		appCfg.Reports = objects
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if cfg.SeedUsersPath != "" {
		users, err := loadSeedUsers(cfg.SeedUsersPath)
		if err != nil {
			log.Fatalf("failed to read seed users: %v", err)
		}
		if err := appCore.SeedUsers(context.Background(), users); err != nil {
			log.Fatalf("failed to seed users: %v", err)
		}
		slog.Info("seeded users", "count", len(users))
	}

	verifier, err := actortoken.NewVerifier(actortoken.Options{
		Secret: cfg.TokenSecret,
		Issuer: cfg.TokenIssuer,
		Leeway: tokenLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:                      appCore,
		Verifier:                 verifier,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		CreateRateLimitPerMinute: cfg.CreateRateLimitPerMinute,
		EnableCORS:               cfg.CORSEnabled,
		TrustedProxies:           cfg.TrustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer httpServer.Close()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("bloodhub server listening", "addr", addr, "store", cfg.StoreDriver, "events", cfg.EventsDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func openStore(cfg config.FileConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreFile:
		return store.NewFileStore(cfg.DataDir)
	case config.StorePostgres:
		return store.NewGormStore(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openPublisher(cfg config.FileConfig) (events.Publisher, error) {
	switch cfg.EventsDriver {
	case config.EventsAMQP:
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case config.EventsKafka:
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return events.NopPublisher{}, nil
	}
}

type seedUser struct {
	Phone            string          `yaml:"phone"`
	Name             string          `yaml:"name"`
	Role             string          `yaml:"role"`
	BloodGroup       string          `yaml:"bloodGroup"`
	Location         domain.Location `yaml:"location"`
	CooldownOverride bool            `yaml:"cooldownOverride"`
	Approved         bool            `yaml:"approved"`
}

// loadSeedUsers reads the bootstrap directory, typically the first admin and
// any pre-approved institutions.
func loadSeedUsers(path string) ([]domain.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Users []seedUser `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	users := make([]domain.User, 0, len(doc.Users))
	for _, u := range doc.Users {
		users = append(users, domain.User{
			Phone:            u.Phone,
			Name:             u.Name,
			Role:             domain.Role(u.Role),
			BloodGroup:       domain.BloodType(u.BloodGroup),
			Location:         u.Location,
			CooldownOverride: u.CooldownOverride,
			Approved:         u.Approved,
		})
	}
	return users, nil
}
