// Package routes mounts the HTTP API on an echo server.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ramsey-B/sorrel/pkg/routes/duplicate"
	"github.com/Ramsey-B/sorrel/pkg/routes/health"
	"github.com/Ramsey-B/sorrel/pkg/routes/record"
	"github.com/Ramsey-B/sorrel/pkg/routes/recordtype"
	"github.com/Ramsey-B/sorrel/pkg/routes/similarity"
)

// Handlers are the API handlers to mount.
type Handlers struct {
	Health      *health.Checker
	Records     *record.Handler
	RecordTypes *recordtype.Handler
	Similarity  *similarity.Handler
	Duplicates  *duplicate.Handler
}

// Register mounts every handler under /api/v1 and Prometheus under /metrics.
func Register(e *echo.Echo, h Handlers) {
	h.Health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	h.Records.Register(api.Group("/records"))
	h.RecordTypes.Register(api.Group("/record-types"))
	h.Similarity.Register(api)
	h.Duplicates.Register(api)
}
