package record

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	reqctx "github.com/Ramsey-B/sorrel/pkg/context"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/routes/apierror"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

var validate = validator.New()

// Resolver is the resolution service.
type Resolver interface {
	GetOrCreate(ctx context.Context, req models.ResolveRequest) (*models.ResolveResult, error)
	GetOrCreateBatch(ctx context.Context, typeSlug string, reqs []models.ResolveRequest) ([]models.BatchResolveItem, error)
}

// Records reads stored records.
type Records interface {
	Get(ctx context.Context, id string) (*models.Record, error)
}

// MergeHistory follows MERGED_INTO edges in the graph projection.
type MergeHistory interface {
	MergeChain(ctx context.Context, kind models.Kind, id string) ([]string, error)
}

// Handler serves the record endpoints
type Handler struct {
	resolver Resolver
	records  Records
	history  MergeHistory
}

// NewHandler creates the record handler. history may be nil when the graph is disabled.
func NewHandler(resolver Resolver, records Records, history MergeHistory) *Handler {
	return &Handler{resolver: resolver, records: records, history: history}
}

// Register registers record routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/resolve", h.Resolve)
	g.POST("/resolve/batch", h.ResolveBatch)
	g.GET("/:id", h.Get)
	g.GET("/:id/merge-chain", h.MergeChain)
}

// Resolve returns the canonical record for a name, creating it when needed. 201 means created.
func (h *Handler) Resolve(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "record_handler.Resolve")
	defer span.End()

	var req models.ResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return apierror.From(err, "invalid request")
	}
	if req.Source == "" {
		req.Source = reqctx.GetSource(ctx)
	}

	result, err := h.resolver.GetOrCreate(ctx, req)
	if err != nil {
		return apierror.From(err, "failed to resolve record")
	}

	status := http.StatusOK
	if result.Outcome == models.ResolveOutcomeCreated {
		status = http.StatusCreated
	}
	return c.JSON(status, result)
}

// ResolveBatch resolves many names of one type. Per-item failures are reported in the items.
func (h *Handler) ResolveBatch(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "record_handler.ResolveBatch")
	defer span.End()

	var req models.BatchResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return apierror.From(err, "invalid request")
	}

	source := reqctx.GetSource(ctx)
	for i := range req.Records {
		if req.Records[i].Source == "" {
			req.Records[i].Source = source
		}
	}

	items, err := h.resolver.GetOrCreateBatch(ctx, req.TypeSlug, req.Records)
	if err != nil {
		return apierror.From(err, "failed to resolve records")
	}
	return c.JSON(http.StatusOK, models.BatchResolveResponse{Items: items})
}

// Get returns a record by id, including inactive (merged) records.
func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "record_handler.Get")
	defer span.End()

	rec, err := h.records.Get(ctx, c.Param("id"))
	if err != nil {
		return apierror.From(err, "failed to get record")
	}
	if rec == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "record %s not found", c.Param("id"))
	}
	return c.JSON(http.StatusOK, rec)
}

// MergeChain lists the ids from the record to its current canonical.
func (h *Handler) MergeChain(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "record_handler.MergeChain")
	defer span.End()

	if h.history == nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "graph projection is disabled")
	}
	chain, err := h.history.MergeChain(ctx, models.KindRecord, c.Param("id"))
	if err != nil {
		return apierror.From(err, "failed to read merge chain")
	}
	return c.JSON(http.StatusOK, map[string]any{"id": c.Param("id"), "chain": chain})
}
