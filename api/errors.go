package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/gin-gonic/gin"
)

var statusByKind = map[domain.Kind]int{
	domain.KindValidation: http.StatusBadRequest,
	domain.KindNotFound:   http.StatusNotFound,
	domain.KindForbidden:  http.StatusForbidden,
	domain.KindCapacity:   http.StatusConflict,
	domain.KindConflict:   http.StatusConflict,
	domain.KindExternal:   http.StatusBadGateway,
	domain.KindFatal:      http.StatusInternalServerError,
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
}

// writeError renders err by its domain kind. Errors outside the taxonomy
// are reported as internal without their text.
func writeError(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal"})
		return
	}
	resp := errorResponse{Error: de.Code, Message: err.Error()}
	if de.Kind == domain.KindCapacity {
		remaining := de.Remaining
		resp.Remaining = &remaining
	}
	if de.Kind == domain.KindFatal {
		_ = c.Error(err)
	}
	c.JSON(statusByKind[de.Kind], resp)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: err.Error()})
}
