package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/config"
	"github.com/iliyamo/slot-reservation/internal/database"
	"github.com/iliyamo/slot-reservation/internal/handler"
	"github.com/iliyamo/slot-reservation/internal/middleware"
	"github.com/iliyamo/slot-reservation/internal/queue"
	"github.com/iliyamo/slot-reservation/internal/repository"
	"github.com/iliyamo/slot-reservation/internal/router"
	"github.com/iliyamo/slot-reservation/internal/service"
)

func main() {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	resources := repository.NewResourceRepo(db)
	reservations := repository.NewReservationRepo(db)
	svc := service.NewReservationService(db, resources, reservations, queue.NewAMQPPublisher())

	if cfg.ConsumeAudit {
		go func() {
			if err := queue.StartReservationConsumer(); err != nil {
				log.Printf("reservation-consumer stopped: %v", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true

	// Redis is optional: without it the limiter and cache pass through.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; rate limiting and response cache disabled")
	}
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	cacheMW := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterBooking(e, handler.NewBookingHandler(svc), cfg.JWTSecret, cacheMW)
	router.RegisterAdmin(e, handler.NewAdminHandler(resources), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, poll hint %ds)", addr, cfg.Env, cfg.PollHintSec)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
