package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"handbookrag/internal/domain"
)

const (
	CodeOK             = 0
	CodeBadRequest     = 40000
	CodeSpaceMismatch  = 40900
	CodeInternalServer = 50000
	CodeModelFailure   = 50200
	CodeNoIndex        = 50300
)

type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// FromError maps pipeline errors onto HTTP statuses.
func FromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrEmptyInput), errors.Is(err, domain.ErrStructuring):
		Error(c, http.StatusBadRequest, CodeBadRequest, err.Error())
	case errors.Is(err, domain.ErrSpaceMismatch):
		Error(c, http.StatusConflict, CodeSpaceMismatch, err.Error())
	case errors.Is(err, domain.ErrModelUnavailable), errors.Is(err, domain.ErrGenerationFailed):
		Error(c, http.StatusBadGateway, CodeModelFailure, err.Error())
	case errors.Is(err, domain.ErrIndex):
		Error(c, http.StatusServiceUnavailable, CodeNoIndex, err.Error())
	default:
		Error(c, http.StatusInternalServerError, CodeInternalServer, err.Error())
	}
}
