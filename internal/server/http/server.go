// Package httpserver exposes the admin and user JSON API over gin.
package httpserver

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/gt-lab/internal/model"
	"github.com/and161185/gt-lab/internal/service"
)

// UserDirectory reads user accounts for the admin routes.
type UserDirectory interface {
	Get(ctx context.Context, identifier string) (*model.Principal, error)
	List(ctx context.Context) ([]model.Principal, error)
}

// Server wires services into gin handlers.
type Server struct {
	admin service.AuthService
	user  service.AuthService
	reg   service.RegistrationService
	users UserDirectory
	data  service.DataService
	log   *zap.Logger

	ready func(context.Context) error
}

// New constructs the HTTP API. data may be nil when telemetry is not configured.
func New(admin, user service.AuthService, reg service.RegistrationService, users UserDirectory, data service.DataService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{admin: admin, user: user, reg: reg, users: users, data: data, log: log}
}

// WithReadiness makes /healthz fail with 503 while check returns an error.
func (s *Server) WithReadiness(check func(context.Context) error) *Server {
	s.ready = check
	return s
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(AssignRequestID(), Logging(s.log), Recover(s.log))

	r.GET("/healthz", s.healthz)

	admin := r.Group("/api/admin")
	{
		admin.POST("/auth", s.authenticate(s.admin))
		admin.POST("/new-user", s.newUser)

		guarded := admin.Group("", Guard(s.admin))
		guarded.POST("/logout", s.logout(s.admin))
		guarded.GET("/users", s.listUsers)
		guarded.GET("/user/:email", s.getUser)
	}

	user := r.Group("/api/user")
	{
		user.POST("/auth", s.authenticate(s.user))

		guarded := user.Group("", Guard(s.user))
		guarded.POST("/logout", s.logout(s.user))
		guarded.GET("/geotab-data", s.drivingData)
	}
	return r
}
