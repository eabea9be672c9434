package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2001J/nebular-power-sub002/utils"

	"github.com/labstack/echo/v4"
)

var errorLogger *slog.Logger

// SetErrorLogger sets the logger for error handling.
func SetErrorLogger(logger *slog.Logger) {
	errorLogger = logger.With("component", "error_handler")
}

// CustomHTTPErrorHandler is the central error handler for the Echo
// application. AppErrors map to their HTTP code and kind; everything else
// becomes an opaque 500.
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	appErr, ok := err.(*utils.AppError)
	if !ok {
		if httpErr, isHTTP := err.(*echo.HTTPError); isHTTP {
			c.JSON(httpErr.Code, utils.ErrorResponse(fmt.Sprintf("%v", httpErr.Message)))
			return
		}
		if errorLogger != nil {
			errorLogger.Error("Unhandled error occurred",
				"error_type", fmt.Sprintf("%T", err),
				"path", c.Path(),
				slog.Any("error", err))
		}
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("An unexpected internal error occurred."))
		return
	}

	if internalErr := appErr.Unwrap(); internalErr != nil && errorLogger != nil {
		errorLogger.Info("Error handled",
			"status_code", appErr.Code,
			"kind", appErr.Kind,
			"error_message", appErr.Message,
			"path", c.Path(),
			slog.Any("internal_error", internalErr))
	}

	c.JSON(appErr.Code, utils.ErrorResponseWithKind(appErr.Kind, appErr.Message))
}
