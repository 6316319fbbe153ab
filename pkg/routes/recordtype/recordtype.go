package recordtype

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/routes/apierror"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

var validate = validator.New()

// Repository stores record types.
type Repository interface {
	Create(ctx context.Context, rt *models.RecordType) error
	GetBySlug(ctx context.Context, slug string) (*models.RecordType, error)
	List(ctx context.Context) ([]models.RecordType, error)
}

// Handler serves the record type endpoints
type Handler struct {
	repo Repository
}

// NewHandler creates the record type handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Register registers record type routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:slug", h.Get)
}

// List returns all active record types
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "recordtype_handler.List")
	defer span.End()

	items, err := h.repo.List(ctx)
	if err != nil {
		return apierror.From(err, "failed to list record types")
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "total_count": len(items)})
}

// Create registers a record type. The slug is derived from the name when omitted.
func (h *Handler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "recordtype_handler.Create")
	defer span.End()

	var req models.CreateRecordTypeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Slug == "" {
		req.Slug = normalizers.Slug(req.Name, "")
	}
	if err := validate.Struct(req); err != nil {
		return apierror.From(err, "invalid request")
	}

	rt := &models.RecordType{Slug: req.Slug, Name: req.Name}
	if err := h.repo.Create(ctx, rt); err != nil {
		if errors.Is(err, database.ErrUniqueViolation) {
			return httperror.NewHTTPErrorf(http.StatusConflict, "record type %q already exists", req.Slug)
		}
		return apierror.From(err, "failed to create record type")
	}
	return c.JSON(http.StatusCreated, rt)
}

// Get returns the active record type with the given slug
func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "recordtype_handler.Get")
	defer span.End()

	rt, err := h.repo.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		return apierror.From(err, "failed to get record type")
	}
	if rt == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "record type %q not found", c.Param("slug"))
	}
	return c.JSON(http.StatusOK, rt)
}
