package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("build-metrics")

// BuildMetrics provides metrics collection for compose builds
type BuildMetrics struct {
	buildsStartedCounter   metric.Int64Counter
	buildsCompletedCounter metric.Int64Counter
	buildsFailedCounter    metric.Int64Counter
	buildDurationHistogram metric.Float64Histogram
	buildsActiveGauge      metric.Int64UpDownCounter
	correctionsCounter     metric.Int64Counter
}

// NewBuildMetrics creates a new build metrics collector
func NewBuildMetrics() (*BuildMetrics, error) {
	buildsStartedCounter, err := meter.Int64Counter(
		"app_composer.builds.started",
		metric.WithDescription("Total number of builds started"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	buildsCompletedCounter, err := meter.Int64Counter(
		"app_composer.builds.completed",
		metric.WithDescription("Total number of builds completed successfully"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	buildsFailedCounter, err := meter.Int64Counter(
		"app_composer.builds.failed",
		metric.WithDescription("Total number of builds that failed"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	buildDurationHistogram, err := meter.Float64Histogram(
		"app_composer.build.duration",
		metric.WithDescription("Duration of build execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	buildsActiveGauge, err := meter.Int64UpDownCounter(
		"app_composer.builds.active",
		metric.WithDescription("Number of currently active builds"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	correctionsCounter, err := meter.Int64Counter(
		"app_composer.builds.corrections",
		metric.WithDescription("Total number of correction-mode codegen invocations"),
		metric.WithUnit("{correction}"),
	)
	if err != nil {
		return nil, err
	}

	return &BuildMetrics{
		buildsStartedCounter:   buildsStartedCounter,
		buildsCompletedCounter: buildsCompletedCounter,
		buildsFailedCounter:    buildsFailedCounter,
		buildDurationHistogram: buildDurationHistogram,
		buildsActiveGauge:      buildsActiveGauge,
		correctionsCounter:     correctionsCounter,
	}, nil
}

// RecordBuildStarted records a new build start
func (bm *BuildMetrics) RecordBuildStarted(ctx context.Context, conversationID string) {
	bm.buildsStartedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("conversation.id", conversationID),
		),
	)
	bm.buildsActiveGauge.Add(ctx, 1)
}

// RecordBuildCompleted records a successful build completion
func (bm *BuildMetrics) RecordBuildCompleted(ctx context.Context, conversationID string, corrections int, duration time.Duration) {
	bm.buildsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("status", "completed"),
		),
	)
	bm.buildDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("status", "completed"),
		),
	)
	if corrections > 0 {
		bm.correctionsCounter.Add(ctx, int64(corrections),
			metric.WithAttributes(
				attribute.String("conversation.id", conversationID),
			),
		)
	}
	bm.buildsActiveGauge.Add(ctx, -1)
}

// RecordBuildFailed records a failed build
func (bm *BuildMetrics) RecordBuildFailed(ctx context.Context, conversationID, errorType string, duration time.Duration) {
	bm.buildsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("status", "failed"),
			attribute.String("error.type", errorType),
		),
	)
	bm.buildDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("status", "failed"),
		),
	)
	bm.buildsActiveGauge.Add(ctx, -1)
}
