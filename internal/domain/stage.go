package domain

import "fmt"

// Stage is a step in the life of a single delivery.
type Stage int

const (
	StageReceived Stage = iota
	StageDeserialized
	StageCacheWritten
	StageEmailRendered
	StageEmailSent
	StageAcknowledged
)

var stageNames = [...]string{
	StageReceived:      "received",
	StageDeserialized:  "deserialized",
	StageCacheWritten:  "cache_written",
	StageEmailRendered: "email_rendered",
	StageEmailSent:     "email_sent",
	StageAcknowledged:  "acknowledged",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageError records the stage a job failed to reach.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("failed before %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with the stage that could not be completed.
func NewStageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
