package middlewares

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/models"
	"github.com/stampnote/loyalty_backend/utils"
)

// BranchMiddleware resolves the X-Branch-Id header into the request context.
// The branch must belong to the authenticated business; the lookup is served
// from redis so every POS request does not hit the branches table.
func BranchMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Request.Header.Get("X-Branch-Id")
		if header == "" {
			c.Next()
			return
		}

		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		branchId, err := strconv.Atoi(header)
		if err != nil || branchId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid branch id"})
			c.Abort()
			return
		}

		var branch models.Branch
		cacheKey := fmt.Sprintf("Branch:%s:%d", businessId, branchId)
		exists, err := config.GetRedisObject(cacheKey, &branch)
		if err == nil && !exists {
			db := config.GetDB()
			if dbErr := db.WithContext(c.Request.Context()).
				Where("business_id = ? AND id = ?", businessId, branchId).
				First(&branch).Error; dbErr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown branch"})
				c.Abort()
				return
			}
			_ = branch.StoreRedis()
		} else if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			c.Abort()
			return
		}

		if branch.IsActive != nil && !*branch.IsActive {
			c.JSON(http.StatusConflict, gin.H{"error": "branch is inactive"})
			c.Abort()
			return
		}

		ctx := utils.SetBranchIdInContext(c.Request.Context(), branch.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
