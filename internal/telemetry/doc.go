// Package telemetry wires OpenTelemetry tracing and metrics for
// relevanced. Both signals export over OTLP gRPC to a local collector.
//
// Initialization never blocks startup: a provider that cannot be
// constructed leaves the instance degraded (no-op tracers and meters,
// a warning in the log, Health reporting Degraded) rather than
// returning an error. Operators notice through health output instead
// of a crash loop.
//
// Typical wiring:
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("relevanced/selection")
//	ctx, span := tracer.Start(ctx, "assemble")
//	defer span.End()
package telemetry
