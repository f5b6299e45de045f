package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// TenantIDKey is the gin context key holding the caller's tenant.
	TenantIDKey = "tenantID"
	// UserIDKey is the gin context key holding the caller's user id.
	UserIDKey = "userID"

	tenantHeader = "X-Tenant-ID"
	userHeader   = "X-User-ID"
)

// TenantAuth requires a tenant identity on every request. Upstream
// authentication terminates at the gateway; this service trusts the
// forwarded identity headers.
func TenantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(tenantHeader)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHENTICATED",
				"message": "missing tenant identity",
			})
			return
		}
		c.Set(TenantIDKey, tenantID)
		c.Set(UserIDKey, c.GetHeader(userHeader))
		c.Next()
	}
}

// TenantID reads the tenant set by TenantAuth.
func TenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}

// UserID reads the user id set by TenantAuth; may be empty.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
