package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/and161185/gt-lab/internal/convert"
	"github.com/and161185/gt-lab/internal/errs"
)

// statusOf maps a service error to its HTTP status and public messages.
// Causes wrapped inside store or upstream errors are never exposed.
func statusOf(err error) (int, []string) {
	var many errs.ValidationErrors
	if errors.As(err, &many) {
		msgs := make([]string, len(many))
		for i, e := range many {
			msgs[i] = e.Reason
		}
		return http.StatusBadRequest, msgs
	}
	var one *errs.ValidationError
	if errors.As(err, &one) {
		return http.StatusBadRequest, []string{one.Reason}
	}

	for _, m := range []struct {
		err    error
		status int
	}{
		{errs.ErrUnknownPrincipal, http.StatusUnauthorized},
		{errs.ErrInvalidChallenge, http.StatusUnauthorized},
		{errs.ErrInvalidOrExpiredToken, http.StatusUnauthorized},
		{errs.ErrAlreadyExists, http.StatusConflict},
		{errs.ErrNotFound, http.StatusNotFound},
		{errs.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errs.ErrUpstream, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	} {
		if errors.Is(err, m.err) {
			return m.status, []string{m.err.Error()}
		}
	}
	return http.StatusInternalServerError, []string{"internal"}
}

func abortWithError(c *gin.Context, err error) {
	status, msgs := statusOf(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, convert.ErrorView{Messages: msgs})
}
