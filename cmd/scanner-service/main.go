package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ticketa/internal/auth"
	"ticketa/internal/config"
	"ticketa/internal/kafka"
	"ticketa/internal/logger"
	"ticketa/internal/scanner"
	scanner_api "ticketa/internal/scanner/api"
	scanner_db "ticketa/internal/scanner/db"
	"ticketa/internal/ticket/qr"
)

// The scanner service is the driver-facing surface: it validates tickets and
// streams each successful scan to Kafka, where the booking service picks it
// up for the dashboards.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	appLog := logger.NewLogger()
	defer appLog.Close()

	ctx := context.Background()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatalf("[Database] Failed to connect to PostgreSQL: %v", err)
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Database] Redis connection error: %v", err)
	}
	defer redisClient.Close()

	var pub scanner.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, appLog)
		defer producer.Close()
		pub = producer
	}

	roleCache := auth.NewRoleCache(bunDB, redisClient)
	debouncer := scanner.NewRedisDebouncer(redisClient, cfg.Scanner.DebounceWindow)
	qrGen := qr.NewQRGenerator(cfg.Auth.QRSecret)

	scannerService := scanner.NewService(
		&scanner_db.DB{Bun: bunDB},
		debouncer,
		pub,
		nil, // scans reach dashboards via Kafka, not a local emitter
		qrGen,
		scanner.Policy{EnforceCompanyMatch: cfg.Scanner.EnforceCompanyMatch},
		appLog,
	)
	scannerHandler := scanner_api.NewHandler(scannerService, appLog)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer, roleCache))
		r.Post("/api/scan", scannerHandler.ScanTicket)
		r.Get("/api/scan/history", scannerHandler.ScanHistory)
	})

	server := &http.Server{
		Addr:    getEnv("SCANNER_PORT", ":8082"),
		Handler: r,
	}

	go func() {
		log.Printf("Scanner service on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Println("Scanner service shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
