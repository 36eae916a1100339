package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/districtwars/game"
	"github.com/cppla/districtwars/geo"
	"github.com/cppla/districtwars/ledger"
	"github.com/cppla/districtwars/middleware"
	"github.com/cppla/districtwars/models"
	"github.com/cppla/districtwars/profile"
	"github.com/cppla/districtwars/utils"
)

// GameController runs check-ins, charges and ranged attacks against the
// authoritative player rows.
type GameController struct {
	db   *gorm.DB
	proc game.Processor
	now  func() time.Time
}

// NewGameController creates a GameController. locator may be nil, in which
// case only explicit district ids resolve.
func NewGameController(db *gorm.DB, locator game.Locator) *GameController {
	return &GameController{db: db, proc: game.Processor{Locator: locator}, now: time.Now}
}

// ambientRequest carries what the client knows about the player's position.
type ambientRequest struct {
	Lng                *float64 `json:"lng"`
	Lat                *float64 `json:"lat"`
	DistrictID         string   `json:"district_id"`
	DistrictName       string   `json:"district_name"`
	TargetDistrictID   string   `json:"target_district_id"`
	TargetDistrictName string   `json:"target_district_name"`
	ContextLng         *float64 `json:"context_lng"`
	ContextLat         *float64 `json:"context_lat"`
	ContextIsLocal     bool     `json:"context_is_local"`
}

func (r ambientRequest) ambient() game.Ambient {
	var amb game.Ambient
	if r.Lng != nil && r.Lat != nil {
		amb.Live = &game.Coords{Lng: *r.Lng, Lat: *r.Lat}
	}
	if id := strings.TrimSpace(r.DistrictID); id != "" {
		amb.MapDistrict = &geo.District{ID: id, Name: strings.TrimSpace(r.DistrictName)}
	}
	return amb
}

// outcome is what every game endpoint answers with.
type outcome struct {
	Result game.Result       `json:"result"`
	Player models.PlayerView `json:"player"`
}

// CheckIn attacks or defends the current or targeted district.
func (g *GameController) CheckIn(ctx *gin.Context) {
	var req ambientRequest
	if !bindOptionalJSON(ctx, &req) {
		return
	}
	cmd := game.CheckInCommand{
		TargetDistrictID:   req.TargetDistrictID,
		TargetDistrictName: req.TargetDistrictName,
		ContextIsLocal:     req.ContextIsLocal,
	}
	if req.ContextLng != nil && req.ContextLat != nil {
		cmd.ContextCoords = &game.Coords{Lng: *req.ContextLng, Lat: *req.ContextLat}
	}
	amb := req.ambient()
	g.run(ctx, amb, func(p *profile.Profile, l *ledger.Ledger, now time.Time) game.Result {
		cmd.Username = p.Username
		return g.proc.CheckIn(p, l, amb, cmd, now)
	})
}

// Charge arms the charge multiplier.
func (g *GameController) Charge(ctx *gin.Context) {
	var req ambientRequest
	if !bindOptionalJSON(ctx, &req) {
		return
	}
	amb := req.ambient()
	g.run(ctx, amb, func(p *profile.Profile, _ *ledger.Ledger, now time.Time) game.Result {
		return g.proc.Charge(p, amb, now)
	})
}

// RangedAttack attacks a district from afar.
func (g *GameController) RangedAttack(ctx *gin.Context) {
	var req ambientRequest
	if !bindOptionalJSON(ctx, &req) {
		return
	}
	g.run(ctx, req.ambient(), func(p *profile.Profile, l *ledger.Ledger, now time.Time) game.Result {
		return g.proc.RangedAttack(p, l, game.RangedAttackCommand{
			Username:     p.Username,
			DistrictID:   req.TargetDistrictID,
			DistrictName: req.TargetDistrictName,
		}, now)
	})
}

type command func(p *profile.Profile, l *ledger.Ledger, now time.Time) game.Result

// run executes cmd in one transaction over the locked player row. A live fix in
// amb becomes the stored location before cmd runs. Rejected commands write nothing.
func (g *GameController) run(ctx *gin.Context, amb game.Ambient, cmd command) {
	id, ok := middleware.PlayerID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization required")
		return
	}
	requestID := ctx.GetString(utils.ContextRequestIDKey)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var out outcome
	err := g.db.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var player models.Player
		if err := lockPlayer(tx, id, &player); err != nil {
			return err
		}
		prof, err := player.ToProfile()
		if err != nil {
			return err
		}
		now := g.now()
		if amb.Live != nil {
			g.proc.ObserveLiveFix(prof, *amb.Live, now)
		}
		res := cmd(prof, ledger.New(), now)
		out.Result = res
		if !res.Accepted {
			out.Player = player.View()
			return nil
		}

		if err := player.ApplyProfile(prof); err != nil {
			return err
		}
		if res.Entry != nil {
			if err := player.PrependHistory(*res.Entry); err != nil {
				return err
			}
		}
		if err := tx.Save(&player).Error; err != nil {
			return err
		}
		if res.LedgerDelta != 0 {
			if err := applyDistrictDelta(tx, res.DistrictID, res.DistrictName, res.LedgerDelta, now); err != nil {
				return err
			}
		}
		if res.Entry != nil {
			record := models.CheckIn{
				RequestID:    requestID,
				PlayerID:     player.ID,
				DistrictID:   res.DistrictID,
				DistrictName: res.DistrictName,
				Kind:         string(res.Kind),
				Source:       string(res.Source),
				Points:       res.Points,
				Multiplier:   res.Multiplier,
				Delta:        res.LedgerDelta,
				Ranged:       res.Ranged,
				Melee:        res.Melee,
				CreatedAt:    now,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		out.Player = player.View()
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "player not found")
			return
		}
		utils.L().Error("game command failed", zap.Uint("player_id", id), zap.String("request_id", requestID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50005, "failed to apply command")
		return
	}

	if !out.Result.Accepted {
		utils.Rejected(ctx, 40901, out.Result.Status, out)
		return
	}
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.LeaderboardCachePrefix)
	utils.L().Info("command accepted",
		zap.Uint("player_id", id),
		zap.String("kind", string(out.Result.Kind)),
		zap.String("district_id", out.Result.DistrictID),
		zap.Int("delta", out.Result.LedgerDelta),
	)
	utils.Success(ctx, out)
}

// lockPlayer loads the player row for update. SQLite ignores the lock clause
// and serialises writers itself.
func lockPlayer(tx *gorm.DB, id uint, player *models.Player) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(player, id).Error
}

// applyDistrictDelta adds delta to the district's ledger row, creating it on first use.
func applyDistrictDelta(tx *gorm.DB, id, name string, delta int, now time.Time) error {
	row := models.DistrictScore{DistrictID: id, Name: name, Adjustment: delta, UpdatedAt: now}
	if delta > 0 {
		row.Defended = delta
	} else {
		row.Attacked = -delta
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "district_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":       name,
			"adjustment": gorm.Expr("adjustment + ?", delta),
			"defended":   gorm.Expr("defended + ?", row.Defended),
			"attacked":   gorm.Expr("attacked + ?", row.Attacked),
			"updated_at": now,
		}),
	}).Create(&row).Error
}

// bindOptionalJSON decodes a JSON body when one is present.
func bindOptionalJSON(ctx *gin.Context, out interface{}) bool {
	if ctx.Request.ContentLength == 0 {
		return true
	}
	if err := ctx.ShouldBindJSON(out); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return false
	}
	return true
}
