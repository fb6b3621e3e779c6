package main

import (
	"log"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/farebound/tripseats/internal/config"
	"github.com/farebound/tripseats/internal/simserver"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadServer()
	clk := clock.New()

	rdb := config.NewRedisClient()
	var holds simserver.HoldStore
	if rdb != nil {
		holds = simserver.NewRedisHoldStore(rdb)
		log.Println("seat holds backed by redis")
	} else {
		holds = simserver.NewMemoryHoldStore(clk)
		log.Println("redis unavailable, seat holds kept in memory")
	}

	srv := simserver.New(cfg, clk, holds, simserver.NewHub())

	e := echo.New()
	e.HideBanner = true
	simserver.RegisterRoutes(e, simserver.NewHandler(srv), cfg, rdb)

	addr := ":" + cfg.Port
	log.Printf("simserver listening on %s (env=%s, lock ttl=%s)", addr, cfg.Env, cfg.LockTTL)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
