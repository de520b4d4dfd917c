package httpserver

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gt-lab/internal/convert"
	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/service"
)

const (
	headerRequestID = "X-Request-ID"
	headerEmail     = "X-Auth-Email"
)

// AssignRequestID keeps an incoming X-Request-ID or generates one.
func AssignRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			if u, err := uuid.NewV4(); err == nil {
				id = u.String()
			}
		}
		c.Set(requestIDKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// Logging writes one line per request.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// metadata only, never bodies or credentials
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", RequestID(c)),
		)
	}
}

// Recover turns a handler panic into a 500.
func Recover(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("route", c.FullPath()),
					zap.String("request_id", RequestID(c)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, convert.ErrorView{Messages: []string{"internal"}})
			}
		}()
		c.Next()
	}
}

type credentials struct {
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`
}

// credentialsFrom reads X-Auth-Email and a bearer token, falling back to {"credentials": {...}} in the body.
func credentialsFrom(c *gin.Context) credentials {
	cr := credentials{Email: c.GetHeader(headerEmail)}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		cr.AccessToken = strings.TrimSpace(auth[len("Bearer "):])
	}
	if cr.Email != "" && cr.AccessToken != "" {
		return cr
	}
	var body struct {
		Credentials credentials `json:"credentials"`
	}
	if c.Request.Body != nil && c.ShouldBindBodyWith(&body, binding.JSON) == nil {
		if cr.Email == "" {
			cr.Email = body.Credentials.Email
		}
		if cr.AccessToken == "" {
			cr.AccessToken = body.Credentials.AccessToken
		}
	}
	return cr
}

func (cr credentials) check() error {
	var problems errs.ValidationErrors
	if strings.TrimSpace(cr.Email) == "" {
		problems = append(problems, errs.Invalid("email", "No email provided"))
	}
	if cr.AccessToken == "" {
		problems = append(problems, errs.Invalid("access_token", "No access token provided"))
	}
	return problems.OrNil()
}

// Guard admits only callers holding a live access token of auth's kind.
func Guard(auth service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		cr := credentialsFrom(c)
		if err := cr.check(); err != nil {
			abortWithError(c, err)
			return
		}
		p, err := auth.Verify(c.Request.Context(), cr.Email, cr.AccessToken)
		if err != nil {
			abortWithError(c, err)
			return
		}
		WithPrincipal(c, p, cr.AccessToken)
		c.Next()
	}
}
