package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/dispatcher"
)

func (s *Server) dispatchHandler(c *echo.Context) error {
	var req dispatcher.Request
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	result, err := s.dispatch.Dispatch(c.Request().Context(), req)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, result)
}
