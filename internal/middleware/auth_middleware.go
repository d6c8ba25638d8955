// internal/middleware/auth_middleware.go
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"royalty-service/internal/pkg/jwt"
	"royalty-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// SchedulerKeyHeader carries the external scheduler's shared key.
const SchedulerKeyHeader = "X-Scheduler-Key"

// TokenVerifier is satisfied by *jwt.Verifier.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type AuthMiddleware struct {
	verifier         TokenVerifier
	schedulerKeyHash []byte
	logger           *zap.Logger
}

// NewAuthMiddleware builds the auth middleware. An empty schedulerKeyHash
// disables scheduler-key access to ops routes.
func NewAuthMiddleware(verifier TokenVerifier, schedulerKeyHash string, logger *zap.Logger) *AuthMiddleware {
	m := &AuthMiddleware{verifier: verifier, logger: logger}
	if schedulerKeyHash != "" {
		m.schedulerKeyHash = []byte(schedulerKeyHash)
	}
	return m
}

// Auth is the base authentication middleware that validates JWT tokens
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth middleware that doesn't abort if no token is provided.
// View tracking accepts anonymous viewers.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			// a bad token is treated as no token
			c.Next()
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// RequireRole middleware that requires user to have at least one of the specified roles
// MUST be used after Auth() middleware
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRoles := GetRoles(c)
		if !IsAuthenticated(c) {
			response.Error(c, http.StatusForbidden, "no roles found - authentication required", nil)
			return
		}

		for _, userRole := range userRoles {
			for _, requiredRole := range roles {
				if userRole == requiredRole {
					c.Next()
					return
				}
			}
		}

		err := errors.New("user does not have required role")
		response.Error(c, http.StatusForbidden, "insufficient permissions", err, map[string]interface{}{
			"required_roles": roles,
			"user_roles":     userRoles,
		})
	}
}

// AdminOnly returns middlewares for admin-only routes (Auth + RequireRole)
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole(jwt.RoleAdmin, jwt.RoleSuperAdmin),
	}
}

// CreatorOrAdmin guards creator analytics. Creators may only read their own
// creator id; the handler enforces that with CanReadCreator.
func (m *AuthMiddleware) CreatorOrAdmin() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole(jwt.RoleCreator, jwt.RoleAdmin, jwt.RoleSuperAdmin),
	}
}

// SchedulerOrAdmin lets ops routes be called by the external scheduler with
// X-Scheduler-Key, or by an admin bearer token.
func (m *AuthMiddleware) SchedulerOrAdmin() gin.HandlerFunc {
	requireAdmin := m.RequireRole(jwt.RoleAdmin, jwt.RoleSuperAdmin)
	return func(c *gin.Context) {
		if key := c.GetHeader(SchedulerKeyHeader); key != "" {
			if m.schedulerKeyHash == nil {
				response.Error(c, http.StatusUnauthorized, "scheduler key not accepted", nil)
				return
			}
			if err := bcrypt.CompareHashAndPassword(m.schedulerKeyHash, []byte(key)); err != nil {
				m.logger.Warn("rejected scheduler key",
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
				)
				response.Error(c, http.StatusUnauthorized, "invalid scheduler key", nil)
				return
			}
			c.Set(ctxScheduler, true)
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}
		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}
		setClaims(c, claims)
		requireAdmin(c)
	}
}

func setClaims(c *gin.Context, claims *jwt.Claims) {
	c.Set(ctxIdentityID, claims.IdentityID)
	c.Set(ctxJTI, claims.ID)
	c.Set(ctxRoles, claims.Roles)
	if claims.CreatorID != 0 {
		c.Set(ctxCreatorID, claims.CreatorID)
	}
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}

	// browsers cannot set headers on websocket upgrades
	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}
