package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind names the milestone an Event records.
type Kind string

// Event kinds.
const (
	KindRunStart       Kind = "RUN_START"
	KindPage           Kind = "PAGE"
	KindRunDone        Kind = "RUN_DONE"
	KindRunInterrupted Kind = "RUN_INTERRUPTED"
	KindRunError       Kind = "RUN_ERROR"
)

// Terminal reports whether k ends a run.
func (k Kind) Terminal() bool {
	switch k {
	case KindRunDone, KindRunInterrupted, KindRunError:
		return true
	default:
		return false
	}
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes. StatusNone marks pages that never got a response.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusNone  StatusClass = "none"
	StatusOther StatusClass = "other"
)

// Event is one journal entry.
type Event struct {
	RunID string
	TS    time.Time
	Kind  Kind
	// Site is the host label of a page event.
	Site string
	URL  string
	// Outcome is the dispatcher's outcome kind for page events.
	Outcome     string
	StatusClass StatusClass
	Bytes       int64
	// Dur is the fetch latency for pages and the wall time for terminal events.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone, KindRunInterrupted, KindRunError:
	case KindPage:
		if e.Site == "" {
			return errors.New("page event requires site")
		}
		if e.Outcome == "" {
			return errors.New("page event requires outcome")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes. Zero means no response.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return StatusNone
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
