package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/evidencije/coursework-api/internal/middleware"
	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// principalFromContext converts stored claims into the policy principal the
// services act on.
func principalFromContext(c *gin.Context) (policy.Principal, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return policy.Principal{}, false
	}
	return policy.Principal{ID: claims.UserID, Role: claims.Role}, true
}
