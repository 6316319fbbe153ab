package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sorrel/pkg/context"
)

// Logger logs one line per request. It must run after Context so the request values are set.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			fields := context.Fields(req.Context())
			fields["uri"] = req.RequestURI
			fields["status"] = res.Status
			fields["response_time"] = time.Since(start)
			fields["request_size"] = req.ContentLength
			fields["response_size"] = res.Size
			fields["user_agent"] = req.UserAgent()

			log := logger.WithContext(req.Context()).WithFields(fields)
			if res.Status >= 500 {
				log.Warn("Request")
			} else {
				log.Info("Request")
			}
			return nil
		}
	}
}
