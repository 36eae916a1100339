package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/districtwars/ledger"
	"github.com/cppla/districtwars/models"
	"github.com/cppla/districtwars/utils"
)

// RecentWindow is the span the district recent change is computed over.
const RecentWindow = 24 * time.Hour

// LeaderboardController ranks players and districts.
type LeaderboardController struct {
	db           *gorm.DB
	defaultLimit int
	ttl          time.Duration
	now          func() time.Time
}

// NewLeaderboardController creates a LeaderboardController.
func NewLeaderboardController(db *gorm.DB, defaultLimit int, ttl time.Duration) *LeaderboardController {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &LeaderboardController{db: db, defaultLimit: defaultLimit, ttl: ttl, now: time.Now}
}

type leaderboardPlayer struct {
	ID           uint   `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Score        int    `json:"score"`
	AttackPoints int    `json:"attack_points"`
	DefendPoints int    `json:"defend_points"`
	Checkins     int    `json:"checkins"`
	HomeDistrict string `json:"home_district"`
}

type leaderboardDistrict struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Score        int           `json:"score"`
	Defended     int           `json:"defended"`
	Attacked     int           `json:"attacked"`
	Status       ledger.Status `json:"status"`
	RecentChange int           `json:"recent_change"`
	RecentStatus ledger.Status `json:"recent_status"`
}

type leaderboardPayload struct {
	Players   []leaderboardPlayer   `json:"players"`
	Districts []leaderboardDistrict `json:"districts"`
}

type recentRow struct {
	DistrictID string
	Defended   int
	Attacked   int
}

// Leaderboard returns the top players and districts. Responses are cached
// briefly and dropped on every accepted mutation.
func (l *LeaderboardController) Leaderboard(ctx *gin.Context) {
	limit := l.defaultLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			utils.Error(ctx, http.StatusBadRequest, 40004, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	cacheKey := fmt.Sprintf("%slimit=%d", utils.LeaderboardCachePrefix, limit)
	if b, ok := utils.CacheGetBytes(ctx.Request.Context(), cacheKey); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}

	db := l.db.WithContext(ctx.Request.Context())
	var players []models.Player
	if err := db.Where("score > 0 OR checkins > 0").
		Order("score DESC").Order("defend_points DESC").Order("username ASC").
		Limit(limit).Find(&players).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50006, "failed to load leaderboard")
		return
	}

	var rows []models.DistrictScore
	if err := db.Find(&rows).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50006, "failed to load leaderboard")
		return
	}
	book := ledger.New()
	for _, r := range rows {
		book.Put(r.DistrictID, r.Entry())
	}

	var recent []recentRow
	if err := db.Model(&models.CheckIn{}).
		Select("district_id, " +
			"COALESCE(SUM(CASE WHEN delta > 0 THEN delta ELSE 0 END), 0) AS defended, " +
			"COALESCE(SUM(CASE WHEN delta < 0 THEN -delta ELSE 0 END), 0) AS attacked").
		Where("created_at >= ?", l.now().Add(-RecentWindow)).
		Group("district_id").
		Scan(&recent).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50006, "failed to load leaderboard")
		return
	}
	recentByID := make(map[string]recentRow, len(recent))
	for _, r := range recent {
		recentByID[r.DistrictID] = r
	}

	payload := leaderboardPayload{
		Players:   make([]leaderboardPlayer, 0, len(players)),
		Districts: make([]leaderboardDistrict, 0, len(rows)),
	}
	for _, p := range players {
		payload.Players = append(payload.Players, leaderboardPlayer{
			ID:           p.ID,
			Username:     p.Username,
			DisplayName:  p.DisplayName,
			Score:        p.Score,
			AttackPoints: p.AttackPoints,
			DefendPoints: p.DefendPoints,
			Checkins:     p.Checkins,
			HomeDistrict: p.HomeDistrictName,
		})
	}
	for _, s := range book.Standings(limit) {
		r := recentByID[s.ID]
		payload.Districts = append(payload.Districts, leaderboardDistrict{
			ID:           s.ID,
			Name:         s.Name,
			Score:        s.Score,
			Defended:     s.Defended,
			Attacked:     s.Attacked,
			Status:       s.Status,
			RecentChange: r.Defended - r.Attacked,
			RecentStatus: ledger.Classify(r.Defended, r.Attacked, ledger.RecentThreshold),
		})
	}

	wrapper := utils.JSONResponse{Code: 0, Message: "success", Data: payload}
	utils.CacheSetJSON(ctx.Request.Context(), cacheKey, wrapper, l.ttl)
	utils.Success(ctx, payload)
}
