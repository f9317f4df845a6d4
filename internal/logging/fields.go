package logging

// Canonical attribute keys shared across components so log queries stay stable.
const (
	FieldComponent      = "component"
	FieldEventType      = "event_type"
	FieldStage          = "stage"
	FieldEpisodeID      = "episode_id"
	FieldSubscriptionID = "subscription_id"
	FieldRequestID      = "request_id"
	FieldErrorHint      = "error_hint"
)
