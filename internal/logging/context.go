package logging

import (
	"context"
	"log/slog"

	"podscribe/internal/services"
)

// WithContext returns a logger enriched with any identifiers stored on the
// context (episode, subscription, stage, request).
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	attrs := make([]any, 0, 4)
	if id, ok := services.EpisodeIDFromContext(ctx); ok {
		attrs = append(attrs, String(FieldEpisodeID, id))
	}
	if id, ok := services.SubscriptionIDFromContext(ctx); ok {
		attrs = append(attrs, String(FieldSubscriptionID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		attrs = append(attrs, String(FieldStage, stage))
	}
	if id, ok := services.RequestIDFromContext(ctx); ok {
		attrs = append(attrs, String(FieldRequestID, id))
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
