package runner

import (
	"errors"
	"fmt"

	"github.com/run-ci/matrix/workflow"
)

var (
	// ErrEnvironmentUnavailable is returned when the environment for a
	// matrix entry can't be provisioned.
	ErrEnvironmentUnavailable = errors.New("environment unavailable")
	// ErrBuildFailure is returned when installing the project fails.
	ErrBuildFailure = errors.New("build failure")
	// ErrTestFailure is returned when the test command fails.
	ErrTestFailure = errors.New("test failure")
	// ErrCancelled is returned for jobs stopped because their context
	// was cancelled, for example by a failing sibling under fail-fast.
	ErrCancelled = errors.New("cancelled")
	// ErrTimedOut is the cause recorded for a stage cut short by the
	// workflow's job timeout.
	ErrTimedOut = errors.New("timed out")
	// ErrNotTriggered is returned by Run when the event doesn't match
	// the workflow's triggers. No jobs are spawned.
	ErrNotTriggered = errors.New("workflow not triggered by event")
)

// Kinds as reported to the store, the bus and metrics.
const (
	KindEnvironmentUnavailable = "EnvironmentUnavailable"
	KindBuildFailure           = "BuildFailure"
	KindTestFailure            = "TestFailure"
	KindCancelled              = "Cancelled"
)

// JobError is the terminal error of a single job.
type JobError struct {
	Entry    workflow.Entry
	Stage    Stage
	ExitCode int

	// Kind is one of the sentinel errors of this package.
	Kind error
	// Err is the underlying cause, if there is one.
	Err error
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("%v: %v: %v", e.Entry, e.Stage, e.Kind)

	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%v (exit code %v)", msg, e.ExitCode)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%v: %v", msg, e.Err)
	}

	return msg
}

// Unwrap exposes both the sentinel kind and the cause to errors.Is.
func (e *JobError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// KindOf names the failure kind of err, or "" if it isn't a job
// failure.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrEnvironmentUnavailable):
		return KindEnvironmentUnavailable
	case errors.Is(err, ErrBuildFailure):
		return KindBuildFailure
	case errors.Is(err, ErrTestFailure):
		return KindTestFailure
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	}

	return ""
}

// stageFailure is the sentinel for a failure in the given stage.
func stageFailure(st Stage) error {
	switch st {
	case StageProvision:
		return ErrEnvironmentUnavailable
	case StageInstall:
		return ErrBuildFailure
	default:
		return ErrTestFailure
	}
}
