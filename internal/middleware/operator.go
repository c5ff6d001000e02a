package middleware

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/ludo-moderation-api/pkg/errors"
	"github.com/noah-isme/ludo-moderation-api/pkg/response"
)

// ContextOperatorKey is the gin context key storing the operator identity.
const ContextOperatorKey = "currentOperator"

// OperatorHeader names the header carrying the operator identity, set by
// the upstream gateway that enforces authentication.
const OperatorHeader = "X-Operator-ID"

// Operator stashes the operator identity from the trusted gateway header.
// Requests without one are rejected: every decision needs attribution.
func Operator(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		operatorID := c.GetHeader(OperatorHeader)
		if operatorID == "" && required {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "missing "+OperatorHeader+" header"))
			c.Abort()
			return
		}
		if operatorID != "" {
			c.Set(ContextOperatorKey, operatorID)
		}
		c.Next()
	}
}

// OperatorValue returns the operator identity stored in the context.
func OperatorValue(c *gin.Context) string {
	if v, exists := c.Get(ContextOperatorKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
