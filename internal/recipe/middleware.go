package recipe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"report-dispatcher/internal/telemetry"
)

// Middleware wraps a Handler with one cross-cutting step.
type Middleware func(next Handler) Handler

// Chain wraps h with mws. The first middleware is the outermost:
// Chain(h, a, b) runs a -> b -> h.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Pipeline composes the standard steps around runner:
// logging -> tracing -> metrics -> validation -> run.
func Pipeline(runner *Runner, logger *slog.Logger, tracer trace.Tracer) Handler {
	return Chain(runner.Run,
		Logging(logger),
		Tracing(tracer),
		Instrumented(),
		Validating(),
	)
}

// Validating rejects malformed requests before next runs.
func Validating() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req ExecutionRequest) (Report, error) {
			if err := req.Validate(); err != nil {
				return Report{Recipe: req.Recipe}, err
			}
			return next(ctx, req)
		}
	}
}

// Logging logs start, completion and failure of each execution.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req ExecutionRequest) (Report, error) {
			logger.InfoContext(ctx, "execution started",
				slog.String("recipe", req.Recipe),
				slog.Int("recipients", len(req.Recipients)),
			)

			start := time.Now()
			report, err := next(ctx, req)
			elapsed := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "execution failed",
					slog.String("recipe", req.Recipe),
					slog.String("query_execution_id", string(report.QueryExecutionID)),
					slog.Duration("elapsed", elapsed),
					slog.String("error", err.Error()),
				)
				return report, err
			}
			logger.InfoContext(ctx, "execution completed",
				slog.String("recipe", req.Recipe),
				slog.String("query_execution_id", string(report.QueryExecutionID)),
				slog.String("result", string(report.Result)),
				slog.Int("records", report.Records),
				slog.Duration("elapsed", elapsed),
			)
			return report, nil
		}
	}
}

// Tracing wraps each execution in a span.
func Tracing(tracer trace.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req ExecutionRequest) (Report, error) {
			ctx, span := tracer.Start(ctx, "recipe.run", trace.WithAttributes(
				attribute.String(telemetry.RecipeKey, req.Recipe),
				attribute.Int(telemetry.RecipientsKey, len(req.Recipients)),
			))
			defer span.End()

			report, err := next(ctx, req)
			span.SetAttributes(
				attribute.String(telemetry.QueryExecutionIDKey, string(report.QueryExecutionID)),
				attribute.Int(telemetry.RecordsKey, report.Records),
			)
			if err != nil {
				telemetry.SetError(span, err, attribute.String(telemetry.RecipeKey, req.Recipe))
				return report, err
			}
			span.SetAttributes(attribute.String(telemetry.ResultKey, string(report.Result)))
			return report, nil
		}
	}
}

// Instrumented records result counts and duration.
func Instrumented() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req ExecutionRequest) (Report, error) {
			start := time.Now()
			report, err := next(ctx, req)
			telemetry.ExecutionDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				telemetry.ExecutionResults.WithLabelValues("error").Inc()
				return report, err
			}
			telemetry.ExecutionResults.WithLabelValues(string(report.Result)).Inc()
			return report, nil
		}
	}
}
