package inventory

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/onclinic/clinic/internal/platform/apperr"
	"github.com/onclinic/clinic/internal/platform/auth"
	"github.com/onclinic/clinic/pkg/pagination"
)

type Handler struct {
	svc        *Service
	expiryDays int
}

// NewHandler returns the inventory API. expiryDays is the default window of
// GET /inventory/expiring.
func NewHandler(svc *Service, expiryDays int) *Handler {
	return &Handler{svc: svc, expiryDays: expiryDays}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/inventory", auth.RequireRole(auth.RolePharmacist, auth.RoleDoctor, auth.RoleReceptionist))
	read.GET("/items", h.ListItems)
	read.GET("/items/:id", h.GetItem)
	read.GET("/items/:id/ledger", h.ListLedger)
	read.GET("/low-stock", h.LowStock)
	read.GET("/expiring", h.Expiring)
	read.GET("/expired", h.Expired)

	write := api.Group("/inventory", auth.RequireRole(auth.RolePharmacist))
	write.POST("/items", h.CreateItem)
	write.PUT("/items/:id", h.UpdateItem)
	write.POST("/items/:id/adjust", h.AdjustStock)
	write.POST("/reconcile", h.ReconcileAll)
}

// AdjustRequest is the body of POST /inventory/items/:id/adjust.
type AdjustRequest struct {
	Delta           int        `json:"delta"`
	Reason          string     `json:"reason"`
	Notes           string     `json:"notes"`
	ReferenceBillID *uuid.UUID `json:"reference_bill_id"`
}

func (h *Handler) CreateItem(c echo.Context) error {
	var item Item
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateItem(c.Request().Context(), &item); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) GetItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.svc.GetItem(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) ListItems(c echo.Context) error {
	items, err := h.svc.ListItems(c.Request().Context(), c.QueryParam("category"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *Handler) UpdateItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var u ItemUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.svc.UpdateItem(c.Request().Context(), id, u)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) AdjustStock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req AdjustRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	res, err := h.svc.AdjustStock(ctx, id, req.Delta, req.Reason, AdjustOptions{
		Notes:           req.Notes,
		ReferenceBillID: req.ReferenceBillID,
		CreatedBy:       auth.UserIDFromContext(ctx),
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListLedger(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entries, err := h.svc.ListLedger(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(entries, pagination.FromContext(c)))
}

func (h *Handler) LowStock(c echo.Context) error {
	items, err := h.svc.LowStockItems(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Expiring(c echo.Context) error {
	days := h.expiryDays
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be an integer")
		}
		days = n
	}
	items, err := h.svc.ExpiringItems(c.Request().Context(), days)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Expired(c echo.Context) error {
	items, err := h.svc.ExpiredItems(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ReconcileAll(c echo.Context) error {
	drifted, err := h.svc.ReconcileAll(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	if drifted == nil {
		drifted = []*ReconcileResult{}
	}
	return c.JSON(http.StatusOK, drifted)
}
