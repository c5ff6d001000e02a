package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ludo-moderation-api/internal/middleware"
)

func operatorFromContext(c *gin.Context) string {
	return middleware.OperatorValue(c)
}
