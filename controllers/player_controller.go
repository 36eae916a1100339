package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/districtwars/config"
	"github.com/cppla/districtwars/middleware"
	"github.com/cppla/districtwars/models"
	"github.com/cppla/districtwars/profile"
	"github.com/cppla/districtwars/utils"
)

// PlayerController exposes player records.
type PlayerController struct {
	db *gorm.DB
}

// NewPlayerController creates a new PlayerController.
func NewPlayerController(db *gorm.DB) *PlayerController {
	return &PlayerController{db: db}
}

// GetPlayer returns one player by id.
func (p *PlayerController) GetPlayer(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid player id")
		return
	}
	var player models.Player
	if err := p.db.WithContext(ctx.Request.Context()).First(&player, id).Error; err != nil {
		respondLoadError(ctx, err)
		return
	}
	utils.Success(ctx, player.View())
}

// UpdatePlayer applies a partial update to the caller's own record. Fields
// absent from the body are left alone; an explicit null clears nullable fields.
func (p *PlayerController) UpdatePlayer(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid player id")
		return
	}
	callerID, _ := middleware.PlayerID(ctx)
	if callerID != id {
		utils.Error(ctx, http.StatusForbidden, 40301, "cannot modify another player")
		return
	}

	var body map[string]json.RawMessage
	if err := ctx.ShouldBindJSON(&body); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}

	var player models.Player
	err := p.db.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := lockPlayer(tx, id, &player); err != nil {
			return err
		}
		if err := applyPlayerPatch(&player, body); err != nil {
			return err
		}
		return tx.Save(&player).Error
	})
	var invalid *invalidFieldError
	switch {
	case errors.As(err, &invalid):
		utils.Error(ctx, http.StatusBadRequest, 40002, invalid.Error())
		return
	case err != nil:
		respondLoadError(ctx, err)
		return
	}

	utils.InvalidateByPrefix(ctx.Request.Context(), utils.LeaderboardCachePrefix)
	utils.Success(ctx, player.View())
}

type invalidFieldError struct {
	field string
}

func (e *invalidFieldError) Error() string {
	return fmt.Sprintf("invalid value for %s", e.field)
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// applyPlayerPatch merges body into player. Check-ins and ratios are always
// recomputed from the stored history.
func applyPlayerPatch(player *models.Player, body map[string]json.RawMessage) error {
	counters := []struct {
		field string
		dst   *int
	}{
		{"score", &player.Score},
		{"attack_points", &player.AttackPoints},
		{"defend_points", &player.DefendPoints},
	}
	for _, c := range counters {
		raw, ok := body[c.field]
		if !ok {
			continue
		}
		var n int
		if err := json.Unmarshal(raw, &n); err != nil || n < 0 {
			return &invalidFieldError{field: c.field}
		}
		*c.dst = n
	}

	if raw, ok := body["display_name"]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return &invalidFieldError{field: "display_name"}
		}
		player.DisplayName = utils.SanitizeDisplayName(name)
	}

	if raw, ok := body["checkin_history"]; ok {
		history := []profile.CheckinEntry{}
		if !isNull(raw) {
			history = profile.SanitizeHistoryJSON(raw, profile.MaxServerHistory)
		}
		if err := player.SetHistory(history); err != nil {
			return err
		}
	}

	if raw, ok := body["home_district_code"]; ok {
		player.HomeDistrictCode = ""
		if !isNull(raw) {
			player.HomeDistrictCode = profile.DistrictIDJSON(raw)
		}
	}
	nameRaw, hasName := body["home_district_name"]
	if !hasName {
		nameRaw, hasName = body["home_district"]
	}
	if hasName {
		var name string
		if !isNull(nameRaw) {
			if err := json.Unmarshal(nameRaw, &name); err != nil {
				return &invalidFieldError{field: "home_district_name"}
			}
		}
		player.HomeDistrictName = utils.Sanitize(name)
	}

	if raw, ok := body["last_known_location"]; ok {
		if err := player.SetLocation(profile.ParseLocationJSON(raw)); err != nil {
			return err
		}
	}

	if raw, ok := body["skip_cooldown"]; ok {
		var skip bool
		if err := json.Unmarshal(raw, &skip); err != nil {
			return &invalidFieldError{field: "skip_cooldown"}
		}
		if skip && !config.Get().IsDevUser(player.Username) {
			return &invalidFieldError{field: "skip_cooldown"}
		}
		player.SkipCooldown = skip
	}

	player.Checkins = len(player.History())
	player.RecomputeRatios()
	return nil
}

func parseID(raw string) (uint, bool) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

func respondLoadError(ctx *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, 40401, "player not found")
		return
	}
	utils.L().Error("player query failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	utils.Error(ctx, http.StatusInternalServerError, 50003, "database error")
}
