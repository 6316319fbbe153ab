// Package similarity exposes the similarity engine and the composite extractor for diagnostics.
package similarity

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sorrel/pkg/extractor"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/routes/apierror"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

var validate = validator.New()

// Matcher scores a pair of names.
type Matcher interface {
	Threshold() float64
	EquivalentAt(ctx context.Context, a, b, locale string, threshold float64) matching.Verdict
}

// Handler serves the similarity endpoints
type Handler struct {
	matcher Matcher
}

// NewHandler creates the similarity handler
func NewHandler(matcher Matcher) *Handler {
	return &Handler{matcher: matcher}
}

// Register registers similarity routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/similarity", h.Similarity)
	g.POST("/composite", h.Composite)
}

// SimilarityResponse is a verdict plus the normalized forms that were compared.
type SimilarityResponse struct {
	matching.Verdict
	NormalizedA string  `json:"normalized_a"`
	NormalizedB string  `json:"normalized_b"`
	Threshold   float64 `json:"threshold"`
}

// Similarity reports whether two names are equivalent and how.
func (h *Handler) Similarity(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "similarity_handler.Similarity")
	defer span.End()

	var req models.SimilarityRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return apierror.From(err, "invalid request")
	}

	threshold := req.Threshold
	if threshold == 0 {
		threshold = h.matcher.Threshold()
	}
	return c.JSON(http.StatusOK, SimilarityResponse{
		Verdict:     h.matcher.EquivalentAt(ctx, req.A, req.B, req.Locale, threshold),
		NormalizedA: normalizers.Normalize(req.A, req.Locale),
		NormalizedB: normalizers.Normalize(req.B, req.Locale),
		Threshold:   threshold,
	})
}

// Composite extracts the member names of a composite reference.
func (h *Handler) Composite(c echo.Context) error {
	_, span := tracing.StartSpan(c.Request().Context(), "similarity_handler.Composite")
	defer span.End()

	var req models.CompositeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return apierror.From(err, "invalid request")
	}
	return c.JSON(http.StatusOK, extractor.DetectComposite(req.Name))
}
