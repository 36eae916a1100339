package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/districtwars/utils"
)

const (
	// ContextPlayerIDKey is the key used to store the authenticated player ID in Gin context.
	ContextPlayerIDKey = "player_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextClaimsKey stores the parsed token claims.
	ContextClaimsKey = "claims"
	// ContextTokenKey stores the raw bearer token.
	ContextTokenKey = "token"
)

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		code, msg := authenticate(ctx)
		if code != 0 {
			utils.Error(ctx, http.StatusUnauthorized, code, msg)
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// OptionalAuth attaches the player identity when a valid token is present and
// lets anonymous requests through otherwise.
func OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetHeader("Authorization") != "" {
			_, _ = authenticate(ctx)
		}
		ctx.Next()
	}
}

// authenticate parses the bearer token and stores the identity on ctx. A zero
// code means success.
func authenticate(ctx *gin.Context) (int, string) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		return 40101, "authorization header missing"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return 40102, "invalid authorization header format"
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return 40103, "empty bearer token"
	}

	if utils.IsTokenBlacklisted(ctx.Request.Context(), tokenString) {
		return 40104, "token revoked"
	}

	claims, err := utils.ParseToken(tokenString)
	if err != nil {
		return 40105, "invalid token"
	}

	ctx.Set(ContextPlayerIDKey, claims.PlayerID)
	ctx.Set(ContextUsernameKey, claims.Username)
	ctx.Set(ContextClaimsKey, claims)
	ctx.Set(ContextTokenKey, tokenString)
	return 0, ""
}

// PlayerID returns the authenticated player id, if any.
func PlayerID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(ContextPlayerIDKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok && id > 0
}

// Claims returns the parsed token claims and raw token, if any.
func Claims(ctx *gin.Context) (*utils.Claims, string, bool) {
	value, exists := ctx.Get(ContextClaimsKey)
	if !exists {
		return nil, "", false
	}
	claims, ok := value.(*utils.Claims)
	return claims, ctx.GetString(ContextTokenKey), ok
}
