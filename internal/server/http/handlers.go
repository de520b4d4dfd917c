package httpserver

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/and161185/gt-lab/internal/convert"
	pkgcrypto "github.com/and161185/gt-lab/internal/crypto"
	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/model"
	"github.com/and161185/gt-lab/internal/service"
)

var (
	errTelemetryOff = errors.New("telemetry is not configured")
	errNoPrincipal  = errors.New("no verified principal on the request")
)

var errBadBody = errs.Invalid("body", "Request body must be a JSON object")

// bindOptionalBody decodes a JSON body into obj; an empty body is fine, a malformed one is not.
func bindOptionalBody(c *gin.Context, obj any) error {
	err := c.ShouldBindBodyWith(obj, binding.JSON)
	if err == nil {
		return nil
	}
	if raw, ok := c.Get(gin.BodyBytesKey); ok {
		if b, _ := raw.([]byte); len(bytes.TrimSpace(b)) == 0 {
			return nil
		}
	}
	return errBadBody
}

type authRequest struct {
	Email     string `json:"email"`
	Date      string `json:"date"`
	AuthToken string `json:"auth_token"`
}

func (r authRequest) check() error {
	var problems errs.ValidationErrors
	if strings.TrimSpace(r.Email) == "" {
		problems = append(problems, errs.Invalid("email", "No email provided"))
	}
	if strings.TrimSpace(r.Date) == "" {
		problems = append(problems, errs.Invalid("date", "No date provided"))
	} else if _, err := pkgcrypto.ParseClientTime(r.Date); err != nil {
		problems = append(problems, errs.Invalid("date", "Invalid date format"))
	}
	if r.AuthToken == "" {
		problems = append(problems, errs.Invalid("auth_token", "No authorization token provided"))
	}
	return problems.OrNil()
}

func (s *Server) healthz(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(c.Request.Context()); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, convert.ErrorView{Messages: []string{errs.ErrStoreUnavailable.Error()}})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authenticate handles POST /auth for one principal kind.
func (s *Server) authenticate(auth service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			abortWithError(c, errBadBody)
			return
		}
		if err := req.check(); err != nil {
			abortWithError(c, err)
			return
		}
		tok, err := auth.Authenticate(c.Request.Context(), req.Email, req.Date, req.AuthToken)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, convert.ToAccessTokenView(tok))
	}
}

// logout revokes the caller's access token.
func (s *Server) logout(auth service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		token := tokenFrom(c)
		if !ok || token == "" {
			abortWithError(c, errNoPrincipal)
			return
		}
		if err := auth.Revoke(c.Request.Context(), p.Email, token); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.users.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, convert.ToUserViews(users))
}

func (s *Server) getUser(c *gin.Context) {
	email := model.NormalizeIdentifier(c.Param("email"))
	u, err := s.users.Get(c.Request.Context(), email)
	if errors.Is(err, errs.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, convert.ErrorView{
			Messages: []string{"There is no user with the email '" + email + "'"},
		})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, convert.ToUserView(*u))
}

// newUser issues a registration token. The issuer verifies the caller itself.
func (s *Server) newUser(c *gin.Context) {
	cr := credentialsFrom(c)
	if err := cr.check(); err != nil {
		abortWithError(c, err)
		return
	}
	var req struct {
		UserEmail string `json:"user_email"`
	}
	if err := bindOptionalBody(c, &req); err != nil {
		abortWithError(c, err)
		return
	}
	tok, err := s.reg.Issue(c.Request.Context(), cr.Email, cr.AccessToken, req.UserEmail)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, convert.ToRegistrationView(tok))
}

// drivingData handles GET /geotab-data?from=&to=&vehicle=.
func (s *Server) drivingData(c *gin.Context) {
	if s.data == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, convert.ErrorView{Messages: []string{errTelemetryOff.Error()}})
		return
	}
	dd, err := s.data.DrivingData(c.Request.Context(), c.Query("from"), c.Query("to"), c.Query("vehicle"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dd)
}
