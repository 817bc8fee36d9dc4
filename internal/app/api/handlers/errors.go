package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/internal/app/service/billing"
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/response"
)

// errorCode maps service errors to envelope codes.
func errorCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, membership.ErrNotFound):
		return response.APIResponseCodeNotFound
	case errors.Is(err, membership.ErrInvalidTier):
		return response.APIResponseCodeInvalidTier
	case errors.Is(err, membership.ErrInvalidArgument), errors.Is(err, billing.ErrInvalidPayload):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, membership.ErrConflict):
		return response.APIResponseCodeConflict
	case errors.Is(err, membership.ErrState):
		return response.APIResponseCodeStateConflict
	case errors.Is(err, membership.ErrConcurrency):
		return response.APIResponseCodeConcurrencyConflict
	case errors.Is(err, billing.ErrInvalidSignature):
		return response.APIResponseCodeUnauthorized
	default:
		return response.APIResponseCodeError
	}
}

func respondError(c *gin.Context, log *zap.SugaredLogger, err error) {
	code := errorCode(err)
	msg := err.Error()
	if code == response.APIResponseCodeError {
		logctx.FromGin(c, log).Errorw("request_failed", "error", msg)
		msg = "internal error"
	}
	c.JSON(code.HTTPStatus(), response.ErrorT[any](code, msg))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(response.APIResponseCodeBadRequest.HTTPStatus(), response.ErrorT[any](response.APIResponseCodeBadRequest, msg))
}
