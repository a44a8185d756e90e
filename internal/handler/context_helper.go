package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/cursolab/gestao-api/internal/middleware"
	"github.com/cursolab/gestao-api/internal/models"
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

// requestMeta collects transport-level caller information for the audit
// trail. The actor is taken from the JWT claims when present.
func requestMeta(c *gin.Context) models.RequestMeta {
	meta := models.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if claims := claimsFromContext(c); claims != nil {
		meta.ActorID = &claims.UserID
	}
	return meta
}
