package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ticketa/internal/auth"
	"ticketa/internal/booking"
	booking_api "ticketa/internal/booking/api"
	booking_db "ticketa/internal/booking/db"
	booking_redis "ticketa/internal/booking/redis"
	"ticketa/internal/company"
	company_api "ticketa/internal/company/api"
	company_db "ticketa/internal/company/db"
	"ticketa/internal/config"
	"ticketa/internal/database/migrations"
	"ticketa/internal/kafka"
	"ticketa/internal/logger"
	"ticketa/internal/scanner"
	scanner_api "ticketa/internal/scanner/api"
	scanner_db "ticketa/internal/scanner/db"
	"ticketa/internal/sse"
	"ticketa/internal/ticket/qr"
	"ticketa/internal/trips"
	trips_api "ticketa/internal/trips/api"
	trips_db "ticketa/internal/trips/db"
)

// subscribeSeatHoldExpiry watches Redis keyspace notifications for expired
// seat holds and republishes them to Kafka so live seat maps free the seat
// the moment the passenger walks away from the booking form.
func subscribeSeatHoldExpiry(rdb *redis.Client, producer *kafka.Producer, log *logger.Logger) {
	ctx := context.Background()

	val, err := rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else if len(val) >= 2 {
		setting, _ := val[1].(string)
		if !strings.Contains(setting, "x") || !strings.Contains(setting, "E") {
			log.Warn("REDIS", "Keyspace notifications not properly configured for expiry events")
		}
	}

	pubsub := rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	log.Info("REDIS", "Subscribed to expired-key notifications for seat holds")

	go func() {
		for msg := range pubsub.Channel() {
			if !strings.HasPrefix(msg.Payload, "seat_hold:") {
				continue
			}

			// seat_hold:<tripID>:<seat>
			rest := strings.TrimPrefix(msg.Payload, "seat_hold:")
			idx := strings.LastIndex(rest, ":")
			if idx < 0 {
				log.Warn("SEAT_HOLD", fmt.Sprintf("Unparseable hold key: %s", msg.Payload))
				continue
			}
			tripID := rest[:idx]
			seat, err := strconv.Atoi(rest[idx+1:])
			if err != nil {
				log.Warn("SEAT_HOLD", fmt.Sprintf("Unparseable seat in hold key %s: %v", msg.Payload, err))
				continue
			}

			log.Info("SEAT_HOLD", fmt.Sprintf("Hold expired for trip %s seat %d", tripID, seat))
			if producer != nil {
				if err := producer.PublishSeatReleased(tripID, seat, "hold_expired"); err != nil {
					log.Error("SEAT_HOLD", fmt.Sprintf("Failed to publish seat release: %v", err))
				}
			}
		}
	}()
}

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err == nil {
			err = sqldb.Ping()
			if err == nil {
				break
			}
		}
		log.Error("DATABASE", fmt.Sprintf("PostgreSQL connection failed: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	if _, err := redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))
	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Ticketa service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx := context.Background()
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	runner := migrations.NewRunner(bunDB, migrations.Options{
		MigrationsDir: getEnv("MIGRATIONS_DIR", "./internal/database/migrations/sql"),
		SeedData:      os.Getenv("SEED_DATA") == "true",
	})
	if err := runner.Run(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		requiredTopics := []string{
			cfg.Kafka.Topics.TicketBooked,
			cfg.Kafka.Topics.TicketCancelled,
			cfg.Kafka.Topics.TicketScanned,
			cfg.Kafka.Topics.SeatReleased,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()
		log.Info("KAFKA", "Kafka producer initialized")
	} else {
		log.Warn("KAFKA", "Kafka disabled, events will not be published")
	}

	roleCache := auth.NewRoleCache(bunDB, redisClient)
	qrGen := qr.NewQRGenerator(cfg.Auth.QRSecret)
	emitter := sse.NewBoardingEmitter()

	holds := booking_redis.NewHolds(redisClient, cfg.Booking.SeatHoldTTL)
	bookingService := booking.NewService(&booking_db.DB{Bun: bunDB}, holds, publisherOrNil(producer), qrGen, log)

	debouncer := scanner.NewRedisDebouncer(redisClient, cfg.Scanner.DebounceWindow)
	scannerService := scanner.NewService(
		&scanner_db.DB{Bun: bunDB},
		debouncer,
		scanPublisherOrNil(producer),
		emitter,
		qrGen,
		scanner.Policy{EnforceCompanyMatch: cfg.Scanner.EnforceCompanyMatch},
		log,
	)

	tripsService := trips.NewService(&trips_db.DB{Bun: bunDB}, log)
	companyService := company.NewService(&company_db.DB{Bun: bunDB}, roleCache, log)

	bookingHandler := booking_api.NewHandler(bookingService, log)
	scannerHandler := scanner_api.NewHandler(scannerService, log)
	tripsHandler := trips_api.NewHandler(tripsService, log)
	boardingHandler := trips_api.NewSSEHandler(log, emitter, tripsService)
	companyHandler := company_api.NewHandler(companyService, log)

	r := chi.NewRouter()

	// Public surface: search and seat maps need no login.
	r.Get("/api/trips", tripsHandler.Search)
	r.Get("/api/trips/{tripID}", tripsHandler.GetTrip)
	r.Get("/api/trips/{tripID}/seats", bookingHandler.BookedSeats)
	r.Get("/api/companies", companyHandler.ListCompanies)
	r.Get("/api/companies/{companyID}", companyHandler.GetCompany)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer, roleCache))

		r.Route("/api", func(r chi.Router) {
			r.Route("/trips/{tripID}", func(r chi.Router) {
				r.Post("/hold", bookingHandler.HoldSeat)
				r.Post("/book", bookingHandler.BookSeat)
				r.Patch("/status", tripsHandler.SetStatus)
				r.Get("/boarding", boardingHandler.HandleBoardingFeed)
			})

			r.Route("/tickets", func(r chi.Router) {
				r.Get("/", bookingHandler.MyTickets)
				r.Get("/{ticketID}", bookingHandler.GetTicket)
				r.Get("/{ticketID}/qr", bookingHandler.TicketQR)
				r.Delete("/{ticketID}", bookingHandler.CancelTicket)
			})

			r.Route("/scan", func(r chi.Router) {
				r.Post("/", scannerHandler.ScanTicket)
				r.Get("/history", scannerHandler.ScanHistory)
			})

			r.Post("/companies", companyHandler.Register)
			r.Route("/companies/{companyID}", func(r chi.Router) {
				r.Get("/trips", tripsHandler.CompanyTrips)
				r.Get("/buses", companyHandler.ListBuses)
				r.Post("/buses", companyHandler.AddBus)
				r.Put("/buses/{busID}", companyHandler.UpdateBus)
				r.Get("/routes", companyHandler.ListRoutes)
				r.Post("/routes", companyHandler.AddRoute)
				r.Put("/routes/{routeID}", companyHandler.UpdateRoute)
				r.Get("/schedules", companyHandler.ListSchedules)
				r.Post("/schedules", companyHandler.AddSchedule)
				r.Put("/schedules/{scheduleID}", companyHandler.UpdateSchedule)
				r.Get("/drivers", companyHandler.ListDrivers)
				r.Post("/drivers", companyHandler.AddDriver)
				r.Patch("/drivers/{driverID}", companyHandler.SetDriverActive)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Post("/companies/{companyID}/approve", companyHandler.ApproveCompany)
				r.Post("/companies/{companyID}/suspend", companyHandler.SuspendCompany)
				r.Post("/companies/{companyID}/reinstate", companyHandler.ReinstateCompany)
				r.Post("/roles", companyHandler.ChangeRole)
				r.Post("/trips/materialize", tripsHandler.Materialize)
				r.Post("/tickets/expire", tripsHandler.ExpireTickets)
			})
		})
	})

	subscribeSeatHoldExpiry(redisClient, producer, log)
	startBackgroundSweeps(ctx, tripsService, log)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Ticketa service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Ticketa service shutdown complete")
	}
}

// startBackgroundSweeps materializes upcoming trips on startup and then keeps
// trips and tickets current: new trips daily, expiry sweep hourly.
func startBackgroundSweeps(ctx context.Context, tripsService *trips.Service, log *logger.Logger) {
	go func() {
		if _, err := tripsService.MaterializeWindow(ctx, 7); err != nil {
			log.Error("TRIPS", fmt.Sprintf("Startup materialization failed: %v", err))
		}

		daily := time.NewTicker(24 * time.Hour)
		hourly := time.NewTicker(time.Hour)
		defer daily.Stop()
		defer hourly.Stop()

		for {
			select {
			case <-daily.C:
				if _, err := tripsService.MaterializeWindow(ctx, 7); err != nil {
					log.Error("TRIPS", fmt.Sprintf("Scheduled materialization failed: %v", err))
				}
			case <-hourly.C:
				if _, err := tripsService.ExpireUnscanned(ctx, time.Now()); err != nil {
					log.Error("TRIPS", fmt.Sprintf("Expiry sweep failed: %v", err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// publisherOrNil keeps the services' nil checks meaningful when Kafka is
// disabled: a typed nil would not compare equal to nil behind the interface.
func publisherOrNil(p *kafka.Producer) booking.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func scanPublisherOrNil(p *kafka.Producer) scanner.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
