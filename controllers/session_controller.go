package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/districtwars/config"
	"github.com/cppla/districtwars/game"
	"github.com/cppla/districtwars/middleware"
	"github.com/cppla/districtwars/models"
	"github.com/cppla/districtwars/utils"
)

// SessionController handles sign-in, sign-out and session lookups.
type SessionController struct {
	db *gorm.DB
}

// NewSessionController creates a new SessionController.
func NewSessionController(db *gorm.DB) *SessionController {
	return &SessionController{db: db}
}

// Session reports whether the bearer token, if any, is valid.
func (s *SessionController) Session(ctx *gin.Context) {
	id, ok := middleware.PlayerID(ctx)
	if !ok {
		utils.Success(ctx, gin.H{"authenticated": false, "player": nil})
		return
	}
	var player models.Player
	if err := s.db.WithContext(ctx.Request.Context()).First(&player, id).Error; err != nil {
		utils.Success(ctx, gin.H{"authenticated": false, "player": nil})
		return
	}
	utils.Success(ctx, gin.H{"authenticated": true, "player": player.View()})
}

// Login authenticates a player, creating the account on first use.
func (s *SessionController) Login(ctx *gin.Context) {
	type request struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}
	username := strings.TrimSpace(req.Username)
	if !game.ValidUsername(username) {
		utils.Error(ctx, http.StatusBadRequest, 40005, "username must be 3-32 letters, digits or underscores")
		return
	}

	db := s.db.WithContext(ctx.Request.Context())
	var player models.Player
	err := db.Where("username = ?", username).First(&player).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		player, err = s.register(db, username, req.Password)
		if errors.Is(err, utils.ErrWeakPassword) {
			utils.Error(ctx, http.StatusBadRequest, 40006, err.Error())
			return
		}
		if err != nil {
			utils.L().Error("create player failed", zap.String("username", username), zap.Error(err))
			utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to create player")
			return
		}
	case err != nil:
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to load player")
		return
	}

	if !utils.CheckPassword(player.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	now := time.Now()
	if err := db.Model(&player).Update("last_login_at", now).Error; err != nil {
		utils.L().Warn("record login time failed", zap.Uint("player_id", player.ID), zap.Error(err))
	}

	token, err := utils.GenerateToken(player.ID, player.Username, 0)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}

	utils.Success(ctx, gin.H{
		"token":  token,
		"player": player.View(),
	})
}

// register creates a player. A concurrent registration of the same name
// resolves to the stored row.
func (s *SessionController) register(db *gorm.DB, username, password string) (models.Player, error) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return models.Player{}, err
	}
	player := models.Player{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		SkipCooldown: config.Get().IsDevUser(username),
	}
	if err := db.Create(&player).Error; err != nil {
		var existing models.Player
		if lookupErr := db.Where("username = ?", username).First(&existing).Error; lookupErr == nil {
			return existing, nil
		}
		return models.Player{}, err
	}
	return player, nil
}

// Logout revokes the bearer token until it expires.
func (s *SessionController) Logout(ctx *gin.Context) {
	claims, token, ok := middleware.Claims(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
		return
	}

	expiresAt := time.Now().Add(time.Duration(config.Get().JWTTTLHours) * time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	utils.BlacklistToken(ctx.Request.Context(), token, expiresAt)
	utils.NoContent(ctx)
}
