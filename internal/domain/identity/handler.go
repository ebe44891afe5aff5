package identity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/artcohort/artcohort/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/identifiers", auth.RequireRole("admin", "data-clerk"))
	g.POST("/hiv-number", h.NextHivNumber)
}

type numberResponse struct {
	Number string `json:"number"`
}

// NextHivNumber issues the next HIV unique patient number. POST because each
// call consumes a sequence value.
func (h *Handler) NextHivNumber(c echo.Context) error {
	number, err := h.svc.NextHivNumber(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, numberResponse{Number: number})
}
