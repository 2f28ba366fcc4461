package mid

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jom-io/gorig-objwatch/src/omuser"
	"github.com/jom-io/gorig/apix/response"
	"github.com/jom-io/gorig/mid/tokenx"
)

const bearer = "Bearer "

// token reads the bearer header, falling back to ?token= for SSE and downloads.
func token(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, bearer) {
		return strings.TrimPrefix(h, bearer)
	}
	return c.Query("token")
}

// Sign admits requests carrying a token issued by omuser.Login.
func Sign() gin.HandlerFunc {
	return func(c *gin.Context) {
		sign := token(c)
		if sign == "" {
			response.ErrorForbidden(c)
			c.Abort()
			return
		}
		get := tokenx.Get(tokenx.Jwt, tokenx.Memory)
		if _, err := get.Generator.Parse(sign); err != nil {
			response.ErrorForbidden(c)
			c.Abort()
			return
		}
		userID, exist := get.Manager.GetUserID(sign)
		if !exist {
			response.ErrorTokenAuthFail(c)
			c.Abort()
			return
		}
		if !omuser.IsOM(userID) {
			response.ErrorForbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
