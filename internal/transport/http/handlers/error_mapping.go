package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// commonErrorCases covers sentinels whose mapping is the same on every route.
// Handler-specific cases always win; these are consulted second so a handler
// can still override a mapping for one endpoint.
var commonErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
	{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
	{Err: usecase.ErrInvalidOrExpiredToken, Status: http.StatusBadRequest, Message: "invalid or expired token"},
	{Err: usecase.ErrSessionExpired, Status: http.StatusUnauthorized, Message: "session expired"},
	{Err: usecase.ErrSessionRevoked, Status: http.StatusUnauthorized, Message: "session revoked"},
}

// RespondWithMappedError resolves err against the handler's cases, then the
// common table, then the fallback. Messages stay deliberately generic so the
// response never leaks which part of a credential check failed.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, table := range [][]ErrorCase{cases, commonErrorCases} {
		for _, cs := range table {
			if cs.Err == nil {
				continue
			}
			if errors.Is(err, cs.Err) {
				c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
				return
			}
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
