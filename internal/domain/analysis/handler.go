package analysis

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pacetrack/pacetrack/internal/domain/transmission"
	"github.com/pacetrack/pacetrack/internal/domain/trend"
	"github.com/pacetrack/pacetrack/internal/platform/auth"
	"github.com/pacetrack/pacetrack/internal/platform/egm"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireScope("read"))
	read.GET("/patients/:id/analysis/battery", h.Battery)
	read.GET("/patients/:id/analysis/impedance", h.Impedance)
	read.GET("/patients/:id/analysis/arrhythmia", h.Arrhythmia)
	read.GET("/observations/:id/egm", h.EGM)
}

func analysisError(err error) error {
	switch {
	case errors.Is(err, transmission.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "observation not found")
	case errors.Is(err, ErrNoWaveform), errors.Is(err, egm.ErrDecode), errors.Is(err, validation.ErrInsufficientData):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, validation.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func window(c echo.Context) (trend.Window, error) {
	w, err := trend.WindowFromQuery(c.QueryParam("start"), c.QueryParam("end"))
	if err != nil {
		return w, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return w, nil
}

func (h *Handler) Battery(c echo.Context) error {
	w, err := window(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Battery(c.Request().Context(), c.Param("id"), w)
	if err != nil {
		return analysisError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Impedance(c echo.Context) error {
	w, err := window(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Impedance(c.Request().Context(), c.Param("id"), w)
	if err != nil {
		return analysisError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Arrhythmia(c echo.Context) error {
	w, err := window(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Arrhythmia(c.Request().Context(), c.Param("id"), c.QueryParam("variable"), w)
	if err != nil {
		return analysisError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) EGM(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := h.svc.EGM(c.Request().Context(), id)
	if err != nil {
		return analysisError(err)
	}
	return c.JSON(http.StatusOK, res)
}
