package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/labstack/echo/v4"
)

type errorResp struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Field   string   `json:"field,omitempty"`
	Details []string `json:"details,omitempty"`
}

func statusFor(kind goIdentity.Kind) int {
	switch kind {
	case goIdentity.KindValidation:
		return http.StatusBadRequest
	case goIdentity.KindConflict:
		return http.StatusConflict
	case goIdentity.KindNotFound:
		return http.StatusNotFound
	case goIdentity.KindUnauthorized:
		return http.StatusUnauthorized
	case goIdentity.KindPolicy:
		return http.StatusUnprocessableEntity
	case goIdentity.KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders an engine error. Dependency and unknown failures are
// logged and reported without their message.
func (h *Handler) writeError(c echo.Context, err error) error {
	kind := goIdentity.KindOf(err)
	resp := errorResp{Error: kind.String()}

	var ie *goIdentity.Error
	if errors.As(err, &ie) && kind != goIdentity.KindDependency {
		if ie.Err != nil {
			resp.Message = ie.Err.Error()
		}
		resp.Field = ie.Field
		resp.Details = ie.Details
	}
	if kind == goIdentity.KindUnknown || kind == goIdentity.KindDependency {
		h.logger.ErrorContext(c.Request().Context(), "request failed",
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	status := statusFor(kind)
	if errors.Is(err, goIdentity.ErrTooManyAttempts) {
		status = http.StatusTooManyRequests
	}
	return c.JSON(status, resp)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResp{Error: goIdentity.KindValidation.String(), Message: msg})
}
