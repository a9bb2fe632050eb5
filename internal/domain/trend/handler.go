package trend

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pacetrack/pacetrack/internal/platform/auth"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
)

type Handler struct {
	calc *Calculator
}

func NewHandler(calc *Calculator) *Handler {
	return &Handler{calc: calc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireScope("read"))
	read.GET("/patients/:id/trends", h.ListTrends)
	read.GET("/patients/:id/trends/:variable", h.GetTrend)
}

func (h *Handler) ListTrends(c echo.Context) error {
	trends, err := h.calc.BuildAll(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, trends)
}

func (h *Handler) GetTrend(c echo.Context) error {
	w, err := WindowFromQuery(c.QueryParam("start"), c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.calc.Build(c.Request().Context(), c.Param("id"), c.Param("variable"), w)
	if err != nil {
		if _, ok := validation.AsValidationError(err); ok {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

// WindowFromQuery parses optional RFC 3339 or YYYY-MM-DD bounds. A bare
// end date covers that whole day.
func WindowFromQuery(start, end string) (Window, error) {
	var w Window
	if start != "" {
		t, _, err := parseBound(start)
		if err != nil {
			return w, validation.New(validation.KindGeneric, "start", start, "must be RFC 3339 or YYYY-MM-DD")
		}
		w.Start = &t
	}
	if end != "" {
		t, dateOnly, err := parseBound(end)
		if err != nil {
			return w, validation.New(validation.KindGeneric, "end", end, "must be RFC 3339 or YYYY-MM-DD")
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		w.End = &t
	}
	return w, w.Validate()
}

func parseBound(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse("2006-01-02", s)
	return t, true, err
}
