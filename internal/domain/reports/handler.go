package reports

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onclinic/clinic/internal/domain/billing"
	"github.com/onclinic/clinic/internal/platform/apperr"
	"github.com/onclinic/clinic/internal/platform/auth"
)

const (
	defaultWindowDays = 30
	defaultTopLimit   = 5
)

type Handler struct {
	svc *Service
	loc *time.Location
	now func() time.Time
}

func NewHandler(svc *Service, loc *time.Location) *Handler {
	return &Handler{svc: svc, loc: loc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	g.GET("/sales", h.Sales)
	g.GET("/doctors", h.Doctors)
	g.GET("/services", h.Services)
	g.GET("/items", h.Items)
	g.GET("/top-doctors", h.TopDoctors)
	g.GET("/top-services", h.TopServices)
	g.GET("/visit-types", h.VisitTypes)
}

// dateRange reads ?start= and ?end= (YYYY-MM-DD, inclusive). Missing bounds
// default to the last 30 clinic days ending today.
func (h *Handler) dateRange(c echo.Context) (Range, error) {
	today := h.now().In(h.loc)
	end := today
	start := today.AddDate(0, 0, -(defaultWindowDays - 1))
	if v := c.QueryParam("start"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			return Range{}, echo.NewHTTPError(http.StatusBadRequest, "start must be YYYY-MM-DD")
		}
		start = t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			return Range{}, echo.NewHTTPError(http.StatusBadRequest, "end must be YYYY-MM-DD")
		}
		end = t
	}
	r := DayRange(start, end, h.loc)
	if r.End.Before(r.Start) {
		return Range{}, echo.NewHTTPError(http.StatusBadRequest, "start must not be after end")
	}
	return r, nil
}

func limitParam(c echo.Context) (int, error) {
	v := c.QueryParam("limit")
	if v == "" {
		return defaultTopLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return n, nil
}

func (h *Handler) Sales(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	groupBy, err := ParseGroupBy(c.QueryParam("group_by"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	billType := c.QueryParam("bill_type")
	if billType != "" && billType != billing.TypeServices && billType != billing.TypePharmacy {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bill_type")
	}
	report, err := h.svc.Sales(c.Request().Context(), r, groupBy, billType)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Doctors(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.Doctors(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) Services(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.Services(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) Items(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.Items(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) TopDoctors(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	limit, err := limitParam(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.TopDoctors(c.Request().Context(), r, limit)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) TopServices(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	limit, err := limitParam(c)
	if err != nil {
		return err
	}
	by, err := ParseMetric(c.QueryParam("by"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rows, err := h.svc.TopServices(c.Request().Context(), r, limit, by)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) VisitTypes(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.VisitTypes(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}
