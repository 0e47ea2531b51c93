package download

import "time"

// EventKind tells log lines apart from a run's terminal outcome.
type EventKind string

const (
	KindLog   EventKind = "log"
	KindDone  EventKind = "done"
	KindError EventKind = "error"
)

// Event is the envelope every notification is relayed in.
type Event struct {
	RunID     string    `json:"run_id"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(runID string, kind EventKind, message string) Event {
	return Event{RunID: runID, Kind: kind, Message: message, Timestamp: time.Now().UTC()}
}

// EventSink receives every event of every run. Publish must not block for long.
type EventSink interface {
	Publish(ev Event)
}

// finalEvent describes a finished run.
func finalEvent(runID string, result Result) Event {
	if result.State == Done {
		return NewEvent(runID, KindDone, result.FileName)
	}
	return NewEvent(runID, KindError, result.Message)
}
