package httpserver

import (
	"github.com/gin-gonic/gin"

	"github.com/and161185/gt-lab/internal/model"
)

const (
	principalKey = "gtlab.principal"
	tokenKey     = "gtlab.token"
	requestIDKey = "gtlab.request_id"
)

// WithPrincipal stores the verified caller and its token on the request.
func WithPrincipal(c *gin.Context, p *model.Principal, token string) {
	c.Set(principalKey, p)
	c.Set(tokenKey, token)
}

// PrincipalFrom fetches the verified caller.
func PrincipalFrom(c *gin.Context) (*model.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*model.Principal)
	return p, ok && p != nil
}

func tokenFrom(c *gin.Context) string {
	return c.GetString(tokenKey)
}

// RequestID returns the id assigned by the RequestID middleware.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
