package middleware

import (
	"errors"
	"net/http"

	"veilpool/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders errors attached to the gin context. Domain errors keep their
// CoreStatus mapping; anything else becomes a plain 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(err.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal error",
		}.JSON())
	}
}
