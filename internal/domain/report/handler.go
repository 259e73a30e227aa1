package report

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medrecords/internal/platform/auth"
	"github.com/ehr/medrecords/internal/platform/fhir"
	"github.com/ehr/medrecords/internal/platform/hipaa"
	"github.com/ehr/medrecords/internal/platform/observation"
	"github.com/ehr/medrecords/pkg/pagination"
)

// Accepted reportDate layouts, tried in order.
var reportDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")

	g.POST("/upload", h.Upload, auth.RequireRole(auth.RoleDiagnost))

	read := g.Group("", auth.RequireRole(auth.RoleDoctor))
	read.GET("", h.List)
	read.GET("/search-by-aadhaar/:aadhaar", h.SearchByAadhaar)
	read.GET("/:id", h.Get)
	read.GET("/:id/observations", h.Observations)
	read.GET("/:id/observations/fhir", h.ObservationsFHIR)
	read.GET("/:id/file", h.File)

	g.GET("/patient/:patientId", h.ListByPatient, auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	g.DELETE("/:id", h.Delete, auth.RequireRole(auth.RolePatient))
}

func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		// A chunked body over the limit only fails while the form is parsed.
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, ErrFileRequired.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, h.svc.maxFileSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}

	r, err := h.svc.Upload(c.Request().Context(), UploadInput{
		FileName:   fh.Filename,
		Size:       int64(len(content)),
		Content:    content,
		UploadedBy: uploader(c),
		PatientID:  c.FormValue("patientId"),
		ReportType: c.FormValue("reportType"),
		ReportDate: parseReportDate(c.FormValue("reportDate")),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.svc.Present(r))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{
		SearchReportType: c.QueryParam("reportType"),
		SearchUploadedBy: c.QueryParam("uploadedBy"),
		SearchChecksum:   c.QueryParam("checksum"),
	}
	items, total, err := h.svc.List(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(h.svc.PresentAll(items), total, pg))
}

func (h *Handler) SearchByAadhaar(c echo.Context) error {
	items, err := h.svc.ListByPatient(c.Request().Context(), c.Param("aadhaar"))
	if err != nil {
		return httpError(err)
	}
	if len(items) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no reports for identifier")
	}
	return c.JSON(http.StatusOK, h.svc.PresentAll(items))
}

// ListByPatient lets doctors list any patient; a patient may only list
// their own reports.
func (h *Handler) ListByPatient(c echo.Context) error {
	ctx := c.Request().Context()
	plain := c.Param("patientId")
	ref, err := h.svc.PatientRef(plain)
	if err != nil {
		return httpError(err)
	}
	if patientOnly(c) && auth.PatientRefFromContext(ctx) != ref {
		return echo.NewHTTPError(http.StatusForbidden, "patients may only view their own reports")
	}
	items, err := h.svc.ListByPatient(ctx, plain)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.svc.PresentAll(items))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.svc.Present(r))
}

type observationView struct {
	observation.Payload
	Label   string `json:"label"`
	Display string `json:"display"`
}

func (h *Handler) Observations(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	_, obs, err := h.svc.Observations(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	views := make([]observationView, len(obs))
	for i, o := range obs {
		views[i] = observationView{Payload: o.Payload(), Label: o.Type.Label(), Display: o.Display()}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"report_id":    id,
		"observations": views,
	})
}

func (h *Handler) ObservationsFHIR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid id"))
	}
	r, obs, err := h.svc.Observations(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("DocumentReference", id.String()))
	}
	if err != nil {
		h.svc.logger.Error().Err(err).Str("report_id", id.String()).Msg("fhir observations")
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome("internal server error"))
	}
	resources := make([]interface{}, len(obs))
	for i, o := range obs {
		resources[i] = ObservationToFHIR(r, i+1, o)
	}
	self := "/api/v1/reports/" + id.String() + "/observations/fhir"
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, len(resources), self))
}

func (h *Handler) File(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, rc, err := h.svc.File(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, contentDisposition(r.FileName))
	return c.Stream(http.StatusOK, r.MimeType, rc)
}

// Delete is allowed for admins and for the patient the report belongs to.
func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !auth.HasRole(ctx, auth.RoleAdmin) && !r.ownedBy(auth.PatientRefFromContext(ctx)) {
		return echo.NewHTTPError(http.StatusForbidden, "only the owning patient or an admin may delete a report")
	}
	if err := h.svc.Delete(ctx, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// patientOnly is true for callers whose access is limited to their own
// records.
func patientOnly(c echo.Context) bool {
	ctx := c.Request().Context()
	return auth.HasRole(ctx, auth.RolePatient) &&
		!auth.HasRole(ctx, auth.RoleDoctor) &&
		!auth.HasRole(ctx, auth.RoleAdmin)
}

func uploader(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return uid
	}
	if v := strings.TrimSpace(c.FormValue("uploadedBy")); v != "" {
		return v
	}
	return "anonymous"
}

// parseReportDate returns nil for blank or unparseable input.
func parseReportDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range reportDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// contentDisposition builds an attachment header. Control characters are
// dropped; mime encodes quotes and non-ASCII names (RFC 2231).
func contentDisposition(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" {
		name = "report.pdf"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrFileRequired), errors.Is(err, ErrNotPDF), errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, hipaa.ErrInvalidFormat):
		return echo.NewHTTPError(http.StatusBadRequest, hipaa.ErrInvalidFormat.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
