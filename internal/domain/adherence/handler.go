package adherence

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/artcohort/artcohort/internal/platform/auth"
	"github.com/artcohort/artcohort/internal/platform/emr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/adherence", auth.RequireRole("admin", "physician", "data-clerk"))
	g.GET("/pickup/:months", h.GetPickup)
}

type pickupResponse struct {
	Months   int         `json:"months"`
	Start    string      `json:"start"`
	End      string      `json:"end"`
	Count    int         `json:"count"`
	Patients []uuid.UUID `json:"patients"`
}

func (h *Handler) GetPickup(c echo.Context) error {
	months, err := strconv.Atoi(c.Param("months"))
	if err != nil || (months != 6 && months != 12) {
		return echo.NewHTTPError(http.StatusBadRequest, "months must be 6 or 12")
	}
	p, err := emr.ParsePeriod(c.QueryParam("start"), c.QueryParam("end"))
	if err != nil {
		var ipe *emr.InvalidPeriodError
		if errors.As(err, &ipe) {
			return echo.NewHTTPError(http.StatusBadRequest, ipe.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid period")
	}
	set, err := h.svc.PickedUp(c.Request().Context(), months, p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pickupResponse{
		Months:   months,
		Start:    c.QueryParam("start"),
		End:      c.QueryParam("end"),
		Count:    set.Len(),
		Patients: set.IDs(),
	})
}
