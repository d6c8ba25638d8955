// internal/middleware/helpers.go
package middleware

import (
	"royalty-service/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
)

const (
	ctxIdentityID = "identity_id"
	ctxJTI        = "jti"
	ctxRoles      = "roles"
	ctxCreatorID  = "creator_id"
	ctxScheduler  = "scheduler"
	ctxRequestID  = "request_id"
)

// GetIdentityID gets identity ID from context
func GetIdentityID(c *gin.Context) (int64, bool) {
	identityID, exists := c.Get(ctxIdentityID)
	if !exists {
		return 0, false
	}

	id, ok := identityID.(int64)
	return id, ok
}

// OptionalIdentityID returns nil for anonymous callers.
func OptionalIdentityID(c *gin.Context) *int64 {
	id, ok := GetIdentityID(c)
	if !ok {
		return nil
	}
	return &id
}

// MustGetIdentityID gets identity ID from context or panics
func MustGetIdentityID(c *gin.Context) int64 {
	identityID, exists := GetIdentityID(c)
	if !exists {
		panic("identity_id not found in context")
	}
	return identityID
}

// GetCreatorID returns the creator profile bound to the token, if any.
func GetCreatorID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(ctxCreatorID)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// GetRoles gets user roles from context
func GetRoles(c *gin.Context) []string {
	roles, exists := c.Get(ctxRoles)
	if !exists {
		return []string{}
	}

	rolesList, ok := roles.([]string)
	if !ok {
		return []string{}
	}

	return rolesList
}

// HasRole checks if the caller has role
func HasRole(c *gin.Context, role string) bool {
	for _, r := range GetRoles(c) {
		if r == role {
			return true
		}
	}
	return false
}

// IsAuthenticated checks if request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ctxIdentityID)
	return exists
}

// IsAdmin checks if user is an admin
func IsAdmin(c *gin.Context) bool {
	return HasRole(c, jwt.RoleAdmin) || HasRole(c, jwt.RoleSuperAdmin)
}

// IsScheduler reports whether the request authenticated with the scheduler key.
func IsScheduler(c *gin.Context) bool {
	return c.GetBool(ctxScheduler)
}

// CanReadCreator reports whether the caller may see creatorID's numbers.
func CanReadCreator(c *gin.Context, creatorID int64) bool {
	if IsAdmin(c) {
		return true
	}
	own, ok := GetCreatorID(c)
	return ok && own == creatorID
}

// GetRequestID returns the id set by RequestLogger.
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
