package transmission

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pacetrack/pacetrack/internal/platform/auth"
	"github.com/pacetrack/pacetrack/internal/platform/middleware"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
	"github.com/pacetrack/pacetrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireScope("read"))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/patients/:id/transmissions", h.ListTransmissions)
	read.GET("/patients/:id/episodes", h.ListEpisodes)
	read.GET("/transmissions/:id", h.GetTransmission)
	read.GET("/transmissions/:id/observations", h.ListObservations)
	read.GET("/transmissions/:id/parameters", h.ListParameters)
	read.GET("/observations/:id", h.GetObservation)

	limit := int64(h.svc.deps.Validator.MaxBytes())
	api.POST("/transmissions", h.ImportTransmission, auth.RequireScope("import"), middleware.BodyLimit(limit))

	write := api.Group("", auth.RequireScope("write"))
	write.PUT("/patients/:id/demographics", h.CorrectDemographics)
	write.DELETE("/transmissions/:id", h.DeleteTransmission)
}

// importError maps pipeline failures onto HTTP statuses.
func importError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	ve, ok := validation.AsValidationError(err)
	switch {
	case !ok:
		return echo.NewHTTPError(http.StatusInternalServerError, "import failed")
	case ve.Kind == validation.KindHL7 && ve.Reason == "message too large":
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, ve.Error())
	case ve.Kind == validation.KindHL7, ve.Kind == validation.KindPatientID:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ve.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	}
}

func (h *Handler) ImportTransmission(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return importError(err)
	}
	res, err := h.svc.Import(c.Request().Context(), body, c.QueryParam("filename"))
	if err != nil {
		return importError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func notFoundOr500(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, what+" not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return notFoundOr500(err, "patient")
	}
	return c.JSON(http.StatusOK, p)
}

type demographicsRequest struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
}

func (h *Handler) CorrectDemographics(c echo.Context) error {
	var req demographicsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var dob *time.Time
	if req.DateOfBirth != "" {
		t, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
		}
		dob = &t
	}
	p, err := h.svc.CorrectDemographics(c.Request().Context(), c.Param("id"), req.Name, dob, req.Gender)
	if err != nil {
		if _, ok := validation.AsValidationError(err); ok {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return notFoundOr500(err, "patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListTransmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTransmissions(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListEpisodes(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEpisodes(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Transmissions --

func (h *Handler) GetTransmission(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTransmission(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "transmission")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTransmission(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTransmission(c.Request().Context(), id); err != nil {
		return notFoundOr500(err, "transmission")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListObservations(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListObservations(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListParameters(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListParameters(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetObservation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.GetObservation(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "observation")
	}
	return c.JSON(http.StatusOK, o)
}
