package jobs

import (
	"time"

	"github.com/italolelis/crocstore/internal/crocdb"
)

type EventKind string

const (
	// EventUpdated is emitted when a job snapshot changed but is not terminal.
	EventUpdated EventKind = "updated"
	// EventFinished is emitted once when a job reaches completed.
	EventFinished EventKind = "finished"
	// EventFailed is emitted once when a job reaches error.
	EventFailed EventKind = "failed"
	// EventRefreshed is emitted after every bulk refresh. It carries no job.
	EventRefreshed EventKind = "refreshed"
)

// Event describes one registry change.
type Event struct {
	Kind EventKind                `json:"kind"`
	Key  string                   `json:"rom_id,omitempty"`
	Job  *crocdb.DownloadProgress `json:"job,omitempty"`
	At   time.Time                `json:"at"`
}

// changeEvent classifies the transition from prev to next. ok is false when
// nothing observable changed.
func changeEvent(key string, prev crocdb.DownloadProgress, existed bool, next crocdb.DownloadProgress) (Event, bool) {
	if existed && prev == next {
		return Event{}, false
	}

	kind := EventUpdated

	if !existed || !prev.Status.IsTerminal() {
		switch next.Status {
		case crocdb.StatusCompleted:
			kind = EventFinished
		case crocdb.StatusError:
			kind = EventFailed
		}
	}

	job := next

	return Event{Kind: kind, Key: key, Job: &job, At: time.Now()}, true
}
