package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/onclinic/clinic/internal/platform/apperr"
	"github.com/onclinic/clinic/internal/platform/auth"
	"github.com/onclinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
	loc *time.Location
}

// NewHandler returns the billing API. Date query parameters are read as
// calendar days in loc.
func NewHandler(svc *Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{svc: svc, loc: loc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole(auth.RoleReceptionist, auth.RolePharmacist, auth.RoleDoctor)

	read := api.Group("", staff)
	read.GET("/bills", h.ListBills)
	read.GET("/bills/:id", h.GetBill)
	read.GET("/services", h.ListServices)

	write := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RolePharmacist))
	write.POST("/bills", h.CreateBill)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/services", h.CreateService)
	admin.PUT("/services/:id", h.UpdateService)
}

func (h *Handler) CreateBill(c echo.Context) error {
	var req CreateBillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	bill, err := h.svc.CreateBill(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, bill)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bill, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, bill)
}

// ListBills accepts ?bill_type=, ?patient_id=, ?doctor_id= and a ?from=/?to=
// day range (YYYY-MM-DD, both inclusive).
func (h *Handler) ListBills(c echo.Context) error {
	f := ListFilter{BillType: c.QueryParam("bill_type")}
	for param, dst := range map[string]**uuid.UUID{"patient_id": &f.PatientID, "doctor_id": &f.DoctorID} {
		if v := c.QueryParam(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &id
		}
	}
	if v := c.QueryParam("from"); v != "" {
		day, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		f.From = day
	}
	if v := c.QueryParam("to"); v != "" {
		day, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		f.To = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	bills, err := h.svc.ListBills(c.Request().Context(), f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(bills, pagination.FromContext(c)))
}

func (h *Handler) CreateService(c echo.Context) error {
	var cs ClinicService
	if err := c.Bind(&cs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateService(c.Request().Context(), &cs); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) ListServices(c echo.Context) error {
	services, err := h.svc.ListServices(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(services, pagination.FromContext(c)))
}

func (h *Handler) UpdateService(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var u ServiceUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := h.svc.UpdateService(c.Request().Context(), id, u)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}
