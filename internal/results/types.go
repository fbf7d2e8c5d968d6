package results

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RollJob identifies one student result to retrieve. It is immutable once built.
type RollJob struct {
	Roll          int    `json:"roll"`
	Semester      string `json:"semester"`
	InstituteCode string `json:"institute_code"`
}

// RollNo returns the enrollment number typed into the portal.
func (j RollJob) RollNo() string {
	return j.InstituteCode + strconv.Itoa(j.Roll)
}

// SubjectGrade is one subject row of a grading sheet.
type SubjectGrade struct {
	Code  string `json:"code"`
	Grade string `json:"grade"`
}

// ResultRecord is a parsed result for one roll number. Grades keep the order in
// which the portal listed them.
type ResultRecord struct {
	Name              string         `json:"name"`
	Branch            string         `json:"branch"`
	RollNo            string         `json:"roll_no"`
	Grades            []SubjectGrade `json:"grades"`
	SGPA              string         `json:"sgpa"`
	CGPA              string         `json:"cgpa"`
	ResultDescription string         `json:"result_description"`
}

// Grade returns the grade recorded for code, if any.
func (r ResultRecord) Grade(code string) (string, bool) {
	for _, g := range r.Grades {
		if g.Code == code {
			return g.Grade, true
		}
	}
	return "", false
}

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind string

// Outcome kinds produced by a single attempt.
const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeNotFound  OutcomeKind = "not_found"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the classified result of one attempt at a RollJob.
type Outcome struct {
	Kind   OutcomeKind
	Record *ResultRecord
	Reason string
}

// Succeeded wraps a record in a success outcome.
func Succeeded(rec ResultRecord) Outcome {
	return Outcome{Kind: OutcomeSucceeded, Record: &rec}
}

// NotFound is the outcome for a roll number the portal has no result for.
func NotFound() Outcome {
	return Outcome{Kind: OutcomeNotFound}
}

// Failed builds a failure outcome carrying the reason.
func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// JobState is the lifecycle of a RollJob inside its runner.
type JobState string

// Job states. Succeeded and SkippedNotFound are terminal; Failed and Canceled
// only occur with a bounded retry policy or a canceled run.
const (
	JobPending         JobState = "pending"
	JobAttempting      JobState = "attempting"
	JobSucceeded       JobState = "succeeded"
	JobSkippedNotFound JobState = "skipped_not_found"
	JobFailed          JobState = "failed"
	JobCanceled        JobState = "canceled"
)

// Terminal reports whether no further attempts follow this state.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobSkippedNotFound, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// StateFor maps an outcome to the terminal job state it produces.
func StateFor(o Outcome) JobState {
	switch o.Kind {
	case OutcomeSucceeded:
		return JobSucceeded
	case OutcomeNotFound:
		return JobSkippedNotFound
	default:
		return JobFailed
	}
}

// RangeRequest asks for every roll in [RollStart, RollEnd].
type RangeRequest struct {
	RollStart     int    `json:"roll_start"`
	RollEnd       int    `json:"roll_end"`
	Semester      string `json:"semester"`
	InstituteCode string `json:"institute_code"`
}

// DefaultMaxRangeSize caps how many rolls one request may span.
const DefaultMaxRangeSize = 100_000

// Validate rejects malformed ranges before anything is scheduled, using
// DefaultMaxRangeSize as the span limit.
func (r RangeRequest) Validate() error {
	return r.ValidateLimit(DefaultMaxRangeSize)
}

// ValidateLimit is Validate with an explicit span limit. A non-positive
// maxSize falls back to DefaultMaxRangeSize.
func (r RangeRequest) ValidateLimit(maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxRangeSize
	}
	switch {
	case r.RollStart < 0 || r.RollEnd < 0:
		return fmt.Errorf("%w: roll numbers must be >= 0", ErrInvalidRange)
	case r.RollStart > r.RollEnd:
		return fmt.Errorf("%w: roll_start %d is after roll_end %d", ErrInvalidRange, r.RollStart, r.RollEnd)
	case strings.TrimSpace(r.Semester) == "":
		return fmt.Errorf("%w: semester is required", ErrInvalidRange)
	case strings.TrimSpace(r.InstituteCode) == "":
		return fmt.Errorf("%w: institute_code is required", ErrInvalidRange)
	case r.RollEnd-r.RollStart >= maxSize:
		return fmt.Errorf("%w: range spans more than %d rolls", ErrInvalidRange, maxSize)
	}
	return nil
}

// Size is the number of roll numbers in the range, or 0 when the range is
// reversed or too wide to count.
func (r RangeRequest) Size() int {
	if r.RollStart < 0 || r.RollEnd < r.RollStart {
		return 0
	}
	span := r.RollEnd - r.RollStart
	if span == math.MaxInt {
		return 0
	}
	return span + 1
}

// Job builds the RollJob for one roll inside the range.
func (r RangeRequest) Job(roll int) RollJob {
	return RollJob{
		Roll:          roll,
		Semester:      r.Semester,
		InstituteCode: r.InstituteCode,
	}
}

// RunStatus represents the lifecycle of a range run.
type RunStatus string

// Run status values.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Finished reports whether the run reached a final status.
func (s RunStatus) Finished() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// RunCounters tracks terminal outcomes across a run.
type RunCounters struct {
	Succeeded int `json:"succeeded"`
	NotFound  int `json:"not_found"`
	Failed    int `json:"failed"`
	Attempts  int `json:"attempts"`
}

// Run is the metadata kept for each submitted range.
type Run struct {
	ID        string       `json:"id"`
	Status    RunStatus    `json:"status"`
	Request   RangeRequest `json:"request"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
	Counters  RunCounters  `json:"counters"`
	ErrorText string       `json:"error_text,omitempty"`
	ExportURI string       `json:"export_uri,omitempty"`
}

// QueueItem hands a submitted run to the background executor.
type QueueItem struct {
	RunID   string       `json:"run_id"`
	Request RangeRequest `json:"request"`
}
