package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"contextkeeper/internal/errs"
)

const (
	CodeOK                = 0
	CodeBadRequest        = 40000
	CodeInvalidContext    = 40001
	CodeUnauthorized      = 40100
	CodeNotFound          = 40400
	CodeConflict          = 40900
	CodeDimensionMismatch = 42200
	CodeInternalServer    = 50000
	CodeStoreUnavailable  = 50300
	CodeTimeout           = 50400
	CodeClientClosed      = 49900
	CodeCleanupPending    = 20201
)

// StatusClientClosedRequest is written when the caller went away before the
// response was ready.
const StatusClientClosedRequest = 499

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Code:    CodeOK,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// FromError writes the status and code for a service error. Internal
// failures are reported with fallback instead of the error text.
func FromError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, errs.ErrPartialCascade):
		c.JSON(http.StatusAccepted, APIResponse{Code: CodeCleanupPending, Message: "delete incomplete, cleanup scheduled"})
	case errors.Is(err, errs.ErrNotFound):
		Error(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, errs.ErrInvalidContextFormat):
		Error(c, http.StatusBadRequest, CodeInvalidContext, err.Error())
	case errors.Is(err, errs.ErrInvalidInput):
		Error(c, http.StatusBadRequest, CodeBadRequest, err.Error())
	case errors.Is(err, errs.ErrConflict):
		Error(c, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, errs.ErrDimensionMismatch):
		Error(c, http.StatusUnprocessableEntity, CodeDimensionMismatch, err.Error())
	case errors.Is(err, errs.ErrStoreUnavailable):
		Error(c, http.StatusServiceUnavailable, CodeStoreUnavailable, "store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		Error(c, http.StatusGatewayTimeout, CodeTimeout, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		Error(c, StatusClientClosedRequest, CodeClientClosed, "request canceled")
	default:
		_ = c.Error(err)
		Error(c, http.StatusInternalServerError, CodeInternalServer, fallback)
	}
}
