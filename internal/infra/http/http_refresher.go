package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"upkeep-dispatcher/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// httpRefresher refreshes http(s) targets by POSTing to their URL.
type httpRefresher struct {
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHttpRefresher returns a refresher whose client gives up after timeout.
// The dispatcher applies its own per-target deadline on top of this.
func NewHttpRefresher(timeout time.Duration, logger *slog.Logger) domain.Refresher {
	return &httpRefresher{
		client: &http.Client{Timeout: timeout},
		logger: logger.With("refresher", "http"),
		tracer: otel.Tracer("upkeep-http-refresher"),
	}
}

// Refresh performs a single POST. Any non-2xx/3xx status is a failure.
func (r *httpRefresher) Refresh(ctx context.Context, target string) error {
	ctx, span := r.tracer.Start(ctx, "refresher.http.Refresh",
		trace.WithAttributes(attribute.String("target", target)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("User-Agent", "upkeep-dispatcher")

	resp, err := r.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http request failed")
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read a small portion of the body for error reporting.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, "5xx")
		return fmt.Errorf("target returned 5xx server error: %s: %s", resp.Status, body)
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, "4xx")
		return fmt.Errorf("target returned 4xx client error: %s: %s", resp.Status, body)
	}

	r.logger.Debug("target refreshed", "target", target, "status", resp.StatusCode)
	return nil
}
