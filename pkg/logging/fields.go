package logging

import "log/slog"

// Common field names for consistent logging across the daemon and CLI.
const (
	FieldApplication = "application"
	FieldSource      = "source"
	FieldKind        = "kind"
	FieldRunID       = "run_id"
	FieldSink        = "sink"
	FieldSubject     = "subject"
	FieldError       = "err"
)

// Application returns a slog attribute for the application identifier.
func Application(id string) slog.Attr {
	return slog.String(FieldApplication, id)
}

// Source returns a slog attribute for a source ID.
func Source(id string) slog.Attr {
	return slog.String(FieldSource, id)
}

// Kind returns a slog attribute for a source kind.
func Kind(kind string) slog.Attr {
	return slog.String(FieldKind, kind)
}

// RunID returns a slog attribute for a forwarder run ID.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// Sink returns a slog attribute for the sink kind.
func Sink(kind string) slog.Attr {
	return slog.String(FieldSink, kind)
}

// Subject returns a slog attribute for a broker subject or stream key.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
