// Package telemetry sets up OpenTelemetry tracing and metrics for bookrec.
//
// Spans are emitted by the vector store adapters, the hybrid blender and the
// service flows; OTel metrics by the HTTP middleware and the embedders. Both
// are exported over OTLP (gRPC or HTTP) when enabled and are no-ops
// otherwise.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Telemetry failures never stop the process: a provider that cannot be built
// leaves the instance degraded with no-op providers.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
