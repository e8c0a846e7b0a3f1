package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/classworks/edumarket-api/internal/middleware"
	"github.com/classworks/edumarket-api/internal/models"
)

func identityFromContext(c *gin.Context) (models.Identity, bool) {
	value, exists := c.Get(middleware.ContextIdentityKey)
	if !exists {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	return identity, ok
}
