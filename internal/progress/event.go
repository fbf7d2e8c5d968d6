package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageBatchStart    Stage = "BATCH_START"
	StageBatchDone     Stage = "BATCH_DONE"
	StageAttempt       Stage = "ATTEMPT"
	StageAttemptFailed Stage = "ATTEMPT_FAILED"
	StageRollSucceeded Stage = "ROLL_SUCCEEDED"
	StageRollNotFound  Stage = "ROLL_NOT_FOUND"
	StageRollFailed    Stage = "ROLL_FAILED"
)

// Event captures one step of a range run.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Roll is the roll number for attempt and roll stages.
	Roll int
	// Batch is the 1-based batch index for batch stages.
	Batch int
	// Attempt is the 1-based attempt counter for attempt stages.
	Attempt int
	// Dur is the attempt, batch or run latency.
	Dur time.Duration
	// Note holds low-volume context such as error text.
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
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageBatchStart, StageBatchDone:
		if e.Batch < 1 {
			return errors.New("batch stages require a batch index")
		}
	case StageAttempt, StageAttemptFailed:
		if e.Attempt < 1 {
			return errors.New("attempt stages require an attempt number")
		}
	case StageRollSucceeded, StageRollNotFound, StageRollFailed:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Roll < 0 {
		return errors.New("roll must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage closes out a roll.
func (s Stage) Terminal() bool {
	switch s {
	case StageRollSucceeded, StageRollNotFound, StageRollFailed:
		return true
	default:
		return false
	}
}
