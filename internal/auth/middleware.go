package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	permissionsKey = "permissions"
	subjectKey     = "subject"
	roleKey        = "role"
)

// Authenticator guards routes with bearer tokens. A disabled authenticator
// grants every permission.
type Authenticator struct {
	jwt     *JWTHandler
	enabled bool
	logger  *zap.Logger
}

func NewAuthenticator(jwtHandler *JWTHandler, enabled bool, logger *zap.Logger) *Authenticator {
	return &Authenticator{jwt: jwtHandler, enabled: enabled, logger: logger}
}

func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Middleware validates the bearer token. Websocket clients may pass the token
// as the "token" query parameter instead.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Set(permissionsKey, RoleAdmin.Permissions())
			c.Set(roleKey, string(RoleAdmin))
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "missing or invalid authorization header", nil))
			return
		}

		claims, err := a.jwt.ValidateAccessToken(token)
		if err != nil {
			a.logger.Debug("Token rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "invalid or expired token", nil))
			return
		}

		role := Role(claims.Role)
		c.Set(permissionsKey, role.Permissions())
		c.Set(subjectKey, claims.Subject)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// RequirePermission aborts with 403 unless the authenticated role grants
// required.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(permissionsKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("AUTH_403", "no permissions found", nil))
			return
		}

		permissions, _ := perms.([]Permission)
		for _, p := range permissions {
			if p == required {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden,
			types.NewErrorResponse("AUTH_403", "insufficient permissions", gin.H{"required": string(required)}))
	}
}

// Subject returns the token subject of the request, or "" when auth is off.
func Subject(c *gin.Context) string {
	return c.GetString(subjectKey)
}
