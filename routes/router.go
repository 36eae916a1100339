package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/districtwars/config"
	"github.com/cppla/districtwars/controllers"
	"github.com/cppla/districtwars/game"
	"github.com/cppla/districtwars/middleware"
	"github.com/cppla/districtwars/utils"
)

// SetupRouter wires routes, middlewares, and controllers. locator may be nil
// when no district boundaries are configured.
func SetupRouter(db *gorm.DB, locator game.Locator) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	if gin.Mode() == gin.TestMode {
		r.Use(utils.RecoveryWithZap(utils.L(), false))
	} else if gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	health := func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	}
	r.GET("/health", health)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	sessionController := controllers.NewSessionController(db)
	playerController := controllers.NewPlayerController(db)
	gameController := controllers.NewGameController(db, locator)
	leaderboardController := controllers.NewLeaderboardController(db, cfg.LeaderboardLimit,
		time.Duration(cfg.LeaderboardCacheSeconds)*time.Second)

	api := r.Group("/api")
	api.GET("/health/", health)
	api.GET("/leaderboard/", leaderboardController.Leaderboard)

	session := api.Group("/session")
	session.GET("/", middleware.OptionalAuth(), sessionController.Session)
	session.POST("/login/", limiter.Handler("login"), sessionController.Login)
	session.POST("/logout/", middleware.AuthRequired(), sessionController.Logout)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), limiter.Handler("api"))
	protected.GET("/players/:id/", playerController.GetPlayer)
	protected.PATCH("/players/:id/", playerController.UpdatePlayer)
	protected.POST("/checkin/", gameController.CheckIn)
	protected.POST("/charge/", gameController.Charge)
	protected.POST("/attack/", gameController.RangedAttack)

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
			return
		}
		utils.Error(ctx, http.StatusNotFound, 40400, "not found")
	})

	return r
}
