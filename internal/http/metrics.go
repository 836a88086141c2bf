package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/bookrec/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/bookrec/internal/http"

// Batch flows scan every reading user, so the duration buckets reach a minute.
var durationBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// requestObserver measures each request once and reports the measurement
// both as OTel instruments and as the request log line.
type requestObserver struct {
	logger   *zap.Logger
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// newRequestObserver creates the bookrec.http.* instruments on meter. An
// instrument that cannot be created is left nil and skipped.
func newRequestObserver(meter metric.Meter, logger *zap.Logger) *requestObserver {
	o := &requestObserver{logger: logger}
	var errs []error
	var err error

	o.requests, err = meter.Int64Counter("bookrec.http.requests_total",
		metric.WithDescription("Requests by method, route and status"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	o.duration, err = meter.Float64Histogram("bookrec.http.request_duration_seconds",
		metric.WithDescription("Request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	errs = append(errs, err)

	o.size, err = meter.Int64Histogram("bookrec.http.response_size_bytes",
		metric.WithDescription("Response body size by method, route and status"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536))
	errs = append(errs, err)

	o.inFlight, err = meter.Int64UpDownCounter("bookrec.http.active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		logger.Warn("some http instruments are unavailable", zap.Error(err))
	}
	return o
}

// middleware renders handler errors through the server's error handler,
// then records metrics and logs the request from the same status and
// duration. The request id is attached to the request context for handlers.
func (o *requestObserver) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(req.Context(), requestID)
			c.SetRequest(req.WithContext(ctx))

			if o.inFlight != nil {
				o.inFlight.Add(ctx, 1)
				defer o.inFlight.Add(ctx, -1)
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			elapsed := time.Since(start)
			route := routeLabel(c.Path())
			status := c.Response().Status
			size := c.Response().Size

			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("route", route),
				attribute.Int("status", status),
			)
			if o.requests != nil {
				o.requests.Add(ctx, 1, attrs)
			}
			if o.duration != nil {
				o.duration.Record(ctx, elapsed.Seconds(), attrs)
			}
			if o.size != nil {
				o.size.Record(ctx, size, attrs)
			}

			if ce := o.logger.Check(logLevel(route, status), "http request"); ce != nil {
				ce.Write(
					zap.String("method", req.Method),
					zap.String("route", route),
					zap.String("uri", req.RequestURI),
					zap.Int("status", status),
					zap.Int64("bytes", size),
					zap.Duration("duration", elapsed),
					zap.String("request_id", requestID),
				)
			}
			return nil
		}
	}
}

// routeLabel is the matched route template, so user ids never reach the
// label set. Unmatched requests share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// logLevel keeps probes out of the info log and raises server errors.
func logLevel(route string, status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.WarnLevel
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
