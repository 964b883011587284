package notify

import "github.com/infra-mapper/infra-mapper/internal/store"

func severityEmoji(s store.Severity) string {
	switch s {
	case store.SeverityInfo:
		return "ℹ️"
	case store.SeverityWarning:
		return "⚠️"
	case store.SeverityCritical:
		return "\U0001f6a8"
	default:
		return "\U0001f4e2"
	}
}

// severityColor returns the accent color rich payloads attach to an alert.
func severityColor(s store.Severity) string {
	switch s {
	case store.SeverityInfo:
		return "#3b82f6"
	case store.SeverityWarning:
		return "#f59e0b"
	case store.SeverityCritical:
		return "#ef4444"
	default:
		return "#6b7280"
	}
}

// orNA substitutes "N/A" for empty resource names in human-facing payloads.
func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
