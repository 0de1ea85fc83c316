package errors

// Convenience functions for the engine's error taxonomy

// Queue errors

func QueueFull(size, capacity int) *TapTrackError {
	return New(CategoryQueue, SeverityWarning, "attendance queue is full").
		WithContext("size", size).
		WithContext("capacity", capacity)
}

func StorageIO(operation string, cause error) *TapTrackError {
	return Wrap(cause, CategoryStorage, SeverityWarning, "queue persistence failed").
		WithContext("operation", operation)
}

// Remote store errors

func RemoteUnavailable() *TapTrackError {
	return Retryable(CategoryRemote, SeverityInfo, "remote store not ready")
}

func RemoteRejected(syncID, reason string) *TapTrackError {
	return Retryable(CategoryRemote, SeverityWarning, "remote store rejected push").
		WithContext("sync_id", syncID).
		WithContext("reason", reason)
}

func ConfirmationTimeout(syncID string) *TapTrackError {
	return Retryable(CategoryRemote, SeverityWarning, "confirmation not received in time").
		WithContext("sync_id", syncID)
}

// Per-tap conditions; these terminate locally with a feedback signal

func InvalidClock(timestamp string) *TapTrackError {
	return New(CategoryClock, SeverityWarning, "clock reading outside plausible range").
		WithContext("timestamp", timestamp)
}

// Config errors

func ConfigNotFound(path string) *TapTrackError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ValidationFailed(field, reason string) *TapTrackError {
	return New(CategoryConfig, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}
