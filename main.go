package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/districtwars/config"
	"github.com/cppla/districtwars/game"
	"github.com/cppla/districtwars/geo"
	"github.com/cppla/districtwars/models"
	"github.com/cppla/districtwars/routes"
	"github.com/cppla/districtwars/utils"
)

func main() {
	cfg := config.Load()

	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(models.All()...)

	var locator game.Locator
	if cfg.DistrictsSource != "" {
		resolver := geo.NewResolver(cfg.DistrictsSource, utils.Logger.Named("geo"))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := resolver.Load(ctx); err != nil {
			utils.Logger.Warn("district boundaries unavailable, only explicit district ids resolve",
				zap.String("source", cfg.DistrictsSource), zap.Error(err))
		}
		cancel()
		locator = resolver
	}

	r := routes.SetupRouter(db, locator)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	utils.StartCooldownSweeper(sweepCtx, db, time.Duration(cfg.CooldownSweepSeconds)*time.Second)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, func(context.Context) { stopSweeper() }, utils.CloseRedis); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
