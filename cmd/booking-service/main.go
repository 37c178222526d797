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
	"ticketa/internal/booking"
	booking_api "ticketa/internal/booking/api"
	booking_db "ticketa/internal/booking/db"
	booking_redis "ticketa/internal/booking/redis"
	"ticketa/internal/config"
	"ticketa/internal/kafka"
	"ticketa/internal/logger"
	"ticketa/internal/sse"
	"ticketa/internal/ticket/qr"
	"ticketa/internal/trips"
	trips_api "ticketa/internal/trips/api"
	trips_db "ticketa/internal/trips/db"
)

// The booking service owns the passenger surface: search, seat holds, sales,
// tickets, and the boarding dashboard feed. Scans arrive over Kafka from the
// scanner service.
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

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, appLog)
		defer producer.Close()
	}

	roleCache := auth.NewRoleCache(bunDB, redisClient)
	qrGen := qr.NewQRGenerator(cfg.Auth.QRSecret)
	holds := booking_redis.NewHolds(redisClient, cfg.Booking.SeatHoldTTL)

	var pub booking.Publisher
	if producer != nil {
		pub = producer
	}
	bookingService := booking.NewService(&booking_db.DB{Bun: bunDB}, holds, pub, qrGen, appLog)
	tripsService := trips.NewService(&trips_db.DB{Bun: bunDB}, appLog)

	emitter := sse.NewBoardingEmitter()

	// Scans happen in the scanner service; this side consumes them to drive
	// the dashboards.
	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.TicketScanned, cfg.Kafka.GroupID, appLog)
		defer consumer.Close()
		go consumer.StartScanFeed(consumerCtx, emitter.EmitTicketUpdate)
	}

	bookingHandler := booking_api.NewHandler(bookingService, appLog)
	tripsHandler := trips_api.NewHandler(tripsService, appLog)
	boardingHandler := trips_api.NewSSEHandler(appLog, emitter, tripsService)

	r := chi.NewRouter()
	r.Get("/api/trips", tripsHandler.Search)
	r.Get("/api/trips/{tripID}", tripsHandler.GetTrip)
	r.Get("/api/trips/{tripID}/seats", bookingHandler.BookedSeats)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer, roleCache))

		r.Route("/api/trips/{tripID}", func(r chi.Router) {
			r.Post("/hold", bookingHandler.HoldSeat)
			r.Post("/book", bookingHandler.BookSeat)
			r.Get("/boarding", boardingHandler.HandleBoardingFeed)
		})
		r.Route("/api/tickets", func(r chi.Router) {
			r.Get("/", bookingHandler.MyTickets)
			r.Get("/{ticketID}", bookingHandler.GetTicket)
			r.Get("/{ticketID}/qr", bookingHandler.TicketQR)
			r.Delete("/{ticketID}", bookingHandler.CancelTicket)
		})
	})

	server := &http.Server{
		Addr:    getEnv("BOOKING_PORT", ":8081"),
		Handler: r,
	}

	go func() {
		log.Printf("Booking service on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelConsumer()
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Println("Booking service shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
