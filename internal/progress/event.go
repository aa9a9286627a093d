// Package progress defines the event stream emitted by crawl and lifecycle
// components for consumption by any external UI.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Level is the severity attached to an Event.
type Level string

// Supported event levels.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event captures a single progress milestone. Delivery is fire-and-forget;
// no acknowledgement is required from consumers.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"timestamp"`
	// Level is the event severity.
	Level Level `json:"level"`
	// Message is the human-readable progress line.
	Message string `json:"message"`
	// JobID optionally scopes the event to a crawl run.
	JobID string `json:"job_id,omitempty"`
	// Site optionally scopes the event to a seed host.
	Site string `json:"site,omitempty"`
	// URL is the optional page URL; it should not contain credentials.
	URL string `json:"url,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Message == "" {
		return errors.New("message is required")
	}
	switch e.Level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return nil
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
}
