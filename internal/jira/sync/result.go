package sync

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// Result summarizes one run.
type Result struct {
	Operation string       `json:"operation"`
	Stage     schema.Stage `json:"stage"`

	UsersProcessed int `json:"users_processed"`
	UsersCreated   int `json:"users_created"`
	UsersUpdated   int `json:"users_updated"`

	IssuesProcessed int `json:"issues_processed"`
	IssuesCreated   int `json:"issues_created"`
	IssuesUpdated   int `json:"issues_updated"`
	StaleSkipped    int `json:"stale_skipped"`

	HistoryRecorded   int `json:"history_recorded"`
	ActivitiesDerived int `json:"activities_derived"`

	MalformedSkipped int `json:"malformed_skipped"`
	UnknownChangers  int `json:"unknown_changers"`

	// Errors collects the non-fatal per-record errors of the run.
	Errors *multierror.Error `json:"-"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ErrorCount returns the number of non-fatal errors.
func (r *Result) ErrorCount() int {
	if r.Errors == nil {
		return 0
	}
	return len(r.Errors.Errors)
}

func (r *Result) addError(err error) {
	r.Errors = multierror.Append(r.Errors, err)
}

func (r *Result) String() string {
	return fmt.Sprintf("%s %s: users=%d (+%d) issues=%d (+%d, ~%d, stale %d) history=%d activities=%d malformed=%d",
		r.Operation, r.Stage,
		r.UsersProcessed, r.UsersCreated,
		r.IssuesProcessed, r.IssuesCreated, r.IssuesUpdated, r.StaleSkipped,
		r.HistoryRecorded, r.ActivitiesDerived, r.MalformedSkipped)
}

// Event reports a stage transition of a run to an Observer.
type Event struct {
	Operation string       `json:"operation"`
	Stage     schema.Stage `json:"stage"`
	At        time.Time    `json:"at"`

	// Set when Stage is terminal.
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// Observer receives the events of every run. It is called synchronously from
// the goroutine running the sync and must not block.
type Observer func(Event)
