// Package duplicate serves duplicate scans, single merges and cleanup runs.
package duplicate

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sorrel/pkg/cleanup"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/routes/apierror"
	"github.com/Ramsey-B/sorrel/pkg/scanner"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

var validate = validator.New()

// Scanner finds duplicate candidates of one kind.
type Scanner interface {
	Scan(ctx context.Context, kind models.Kind, filter models.ScanFilter) (*scanner.Result, error)
}

// Merger folds one duplicate into its canonical.
type Merger interface {
	Merge(ctx context.Context, kind models.Kind, duplicateID, canonicalID string, dryRun bool) (*models.MergeResult, error)
}

// Cleaner runs the batch cleanup.
type Cleaner interface {
	Run(ctx context.Context, opts cleanup.Options) (*cleanup.Report, error)
}

// Handler serves the duplicate endpoints
type Handler struct {
	scanner Scanner
	merger  Merger
	cleaner Cleaner
}

// NewHandler creates the duplicate handler
func NewHandler(s Scanner, m Merger, c Cleaner) *Handler {
	return &Handler{scanner: s, merger: m, cleaner: c}
}

// Register registers duplicate, merge and cleanup routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/duplicates/:kind", h.Scan)
	g.POST("/merges", h.Merge)
	g.POST("/cleanup", h.Cleanup)
}

// ScanResponse is a scan result with its clusters.
type ScanResponse struct {
	*scanner.Result
	Clusters []models.DuplicateCluster `json:"clusters"`
}

// Scan lists duplicate candidates and clusters of one kind without changing anything.
func (h *Handler) Scan(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "duplicate_handler.Scan")
	defer span.End()

	var filter models.ScanFilter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if err := validate.Struct(filter); err != nil {
		return apierror.From(err, "invalid request")
	}

	kind := models.Kind(c.Param("kind"))
	if !ectolinq.Contains(models.AllKinds, kind) {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown kind %q", kind)
	}

	res, err := h.scanner.Scan(ctx, kind, filter)
	if err != nil {
		return apierror.From(err, "failed to scan for duplicates")
	}
	return c.JSON(http.StatusOK, ScanResponse{Result: res, Clusters: res.Clusters()})
}

// Merge folds one duplicate into a canonical, or previews the merge with dry_run.
func (h *Handler) Merge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "duplicate_handler.Merge")
	defer span.End()

	var req models.MergeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return apierror.From(err, "invalid request")
	}

	result, err := h.merger.Merge(ctx, req.Kind, req.DuplicateID, req.CanonicalID, req.DryRun)
	if err != nil {
		return apierror.From(err, "failed to merge")
	}
	return c.JSON(http.StatusOK, result)
}

// Cleanup scans, clusters and merges the requested kinds and returns the report. Item failures are
// part of the report; the request only fails when the run could not start.
func (h *Handler) Cleanup(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "duplicate_handler.Cleanup")
	defer span.End()

	var req models.CleanupRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return apierror.From(err, "invalid request")
	}

	report, err := h.cleaner.Run(ctx, cleanup.Options{
		Kinds:     req.Kinds,
		DryRun:    req.DryRun,
		Threshold: req.Threshold,
		TypeSlug:  req.TypeSlug,
		Country:   req.Country,
	})
	if err != nil && report == nil {
		return apierror.From(err, "cleanup failed")
	}
	return c.JSON(http.StatusOK, report)
}
