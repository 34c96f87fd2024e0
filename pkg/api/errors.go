package api

import (
	"errors"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/apierr"
)

var errInvalidStatus = errors.New("invalid status value")

// fail maps err through the shared taxonomy and returns it for the handler
// to propagate to echo.
func fail(err error) error {
	return apierr.Map(err)
}

func badRequest(msg string) error {
	return echo.NewHTTPError(400, msg)
}
