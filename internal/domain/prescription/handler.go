package prescription

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

func NewHandler(svc *Service, loc *time.Location) *Handler {
	return &Handler{svc: svc, loc: loc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/prescriptions", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RolePharmacist))
	read.GET("", h.List)
	read.GET("/:id", h.Get)

	write := api.Group("/prescriptions", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	write.POST("", h.Create)
}

func (h *Handler) Create(c echo.Context) error {
	var p Prescription
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Create(c.Request().Context(), &p, actor); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// List accepts ?patient_id=, ?doctor_id=, ?visit_type= and a ?date=
// (YYYY-MM-DD) restricting results to one clinic day.
func (h *Handler) List(c echo.Context) error {
	f := ListFilter{VisitType: c.QueryParam("visit_type")}
	for param, dst := range map[string]**uuid.UUID{"patient_id": &f.PatientID, "doctor_id": &f.DoctorID} {
		if v := c.QueryParam(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &id
		}
	}
	if v := c.QueryParam("date"); v != "" {
		day, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		f.From = day
		f.To = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	items, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}
