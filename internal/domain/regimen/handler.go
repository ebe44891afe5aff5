package regimen

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/artcohort/artcohort/internal/platform/auth"
	"github.com/artcohort/artcohort/internal/platform/emr"
	"github.com/artcohort/artcohort/pkg/pagination"
	"github.com/artcohort/artcohort/pkg/patientset"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/regimen", auth.RequireRole("admin", "physician", "data-clerk"))
	read.GET("/lineage", h.GetLineage)
	read.GET("/lineage/:tier", h.GetLineageTier)
	read.GET("/patients/:id/orders", h.GetPatientOrders)

	write := api.Group("/regimen", auth.RequireRole("admin", "pharmacist"))
	write.POST("/drug-orders", h.SaveDrugOrder)
	write.POST("/drug-obs", h.SaveDrugObs)
	write.POST("/visit-records", h.SaveVisitRecords)
}

type tierResponse struct {
	Tier        string      `json:"tier"`
	Start       string      `json:"start"`
	End         string      `json:"end"`
	Count       int         `json:"count"`
	Patients    []uuid.UUID `json:"patients"`
	Ambiguities int         `json:"ambiguities"`
}

type lineageResponse struct {
	Start       string      `json:"start"`
	End         string      `json:"end"`
	Tiers       []tierBlock `json:"tiers"`
	Ambiguities int         `json:"ambiguities"`
}

type tierBlock struct {
	Tier     string      `json:"tier"`
	Count    int         `json:"count"`
	Patients []uuid.UUID `json:"patients"`
}

func periodFromQuery(c echo.Context) (emr.Period, error) {
	p, err := emr.ParsePeriod(c.QueryParam("start"), c.QueryParam("end"))
	if err != nil {
		var ipe *emr.InvalidPeriodError
		if errors.As(err, &ipe) {
			return emr.Period{}, echo.NewHTTPError(http.StatusBadRequest, ipe.Error())
		}
		return emr.Period{}, echo.NewHTTPError(http.StatusBadRequest, "invalid period")
	}
	return p, nil
}

func (h *Handler) GetLineage(c echo.Context) error {
	p, err := periodFromQuery(c)
	if err != nil {
		return err
	}
	l, err := h.svc.Classify(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, lineageResponse{
		Start: c.QueryParam("start"),
		End:   c.QueryParam("end"),
		Tiers: []tierBlock{
			{Tier: "original-first-line", Count: l.OriginalFirstLine.Len(), Patients: l.OriginalFirstLine.IDs()},
			{Tier: "alternate-first-line", Count: l.AlternateFirstLine.Len(), Patients: l.AlternateFirstLine.IDs()},
			{Tier: "second-line", Count: l.SecondLine.Len(), Patients: l.SecondLine.IDs()},
			{Tier: "third-line", Count: l.ThirdLine.Len(), Patients: l.ThirdLine.IDs()},
		},
		Ambiguities: l.Ambiguities,
	})
}

func (h *Handler) GetLineageTier(c echo.Context) error {
	p, err := periodFromQuery(c)
	if err != nil {
		return err
	}
	tier := c.Param("tier")
	l, err := h.svc.Classify(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	var set patientset.Set
	switch tier {
	case "original-first-line":
		set = l.OriginalFirstLine
	case "alternate-first-line":
		set = l.AlternateFirstLine
	case "second-line":
		set = l.SecondLine
	case "third-line":
		set = l.ThirdLine
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown tier: "+tier)
	}
	return c.JSON(http.StatusOK, tierResponse{
		Tier:        tier,
		Start:       c.QueryParam("start"),
		End:         c.QueryParam("end"),
		Count:       set.Len(),
		Patients:    set.IDs(),
		Ambiguities: l.Ambiguities,
	})
}

func (h *Handler) GetPatientOrders(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	recs, err := h.svc.RecordsForPatient(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	p := pagination.FromContext(c)
	total := len(recs)
	lo := p.Offset
	if lo > total {
		lo = total
	}
	hi := lo + p.Limit
	if hi > total {
		hi = total
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs[lo:hi], total, p.Limit, p.Offset))
}

func (h *Handler) SaveDrugOrder(c echo.Context) error {
	var rec DrugOrderProcessed
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SaveDrugOrderProcessed(c.Request().Context(), &rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

type visitRecordsRequest struct {
	DrugOrder DrugOrderProcessed `json:"drug_order"`
	DrugObs   DrugObsProcessed   `json:"drug_obs"`
}

// SaveVisitRecords writes a visit's drug order and drug observation pair
// atomically.
func (h *Handler) SaveVisitRecords(c echo.Context) error {
	var req visitRecordsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SaveVisitRecords(c.Request().Context(), &req.DrugOrder, &req.DrugObs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) SaveDrugObs(c echo.Context) error {
	var rec DrugObsProcessed
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SaveDrugObsProcessed(c.Request().Context(), &rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}
