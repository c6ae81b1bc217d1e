package store

import (
	"errors"
	"time"

	"github.com/run-ci/matrix/workflow"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

var (
	// ErrPipelineExists is returned when creating a pipeline whose
	// remote and name are already taken.
	ErrPipelineExists = errors.New("pipeline already exists")
	// ErrPipelineNotFound is what's returned when a pipeline couldn't
	// be found in the store.
	ErrPipelineNotFound = errors.New("pipeline not found")
	// ErrNoPipelines is an error returned when a method of a RelayStore
	// doesn't find any pipelines.
	ErrNoPipelines = errors.New("no pipelines found")
	// ErrRunNotFound is an error returned when a run isn't found for a
	// given pipeline.
	ErrRunNotFound = errors.New("run not found")
	// ErrJobNotFound is an error returned when a Job isn't found.
	ErrJobNotFound = errors.New("job not found")
	// ErrStepNotFound is an error returned when a Step isn't found.
	ErrStepNotFound = errors.New("step not found")
	// ErrNotAuthenticated is returned when a user's credentials don't
	// check out.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUserExists is returned when creating a user whose email is
	// already taken.
	ErrUserExists = errors.New("user already exists")
)

func init() {
	logger = log.WithFields(log.Fields{
		"package": "store",
	})
}

// RelayStore is an all-encompassing interface for all the behaviors
// a store can exhibit. The interface is massive, but all this is included
// so that store implementations can be seamlessly swapped out. Consumers
// should define their own interfaces that use a subset of this interface's
// functions related to what they're interested in.
type RelayStore interface {
	// CreatePipeline saves a pipeline, setting its ID.
	CreatePipeline(*Pipeline) error
	// GetPipeline returns the pipeline with its runs, but not the
	// jobs of those runs.
	GetPipeline(id int) (Pipeline, error)
	// GetPipelines returns every pipeline registered on the remote,
	// or every pipeline at all when remote is "".
	GetPipelines(remote string) ([]Pipeline, error)
	// GetPipelineID takes these fields because it's the only way to
	// identify a pipeline before the ID is known. If there are no
	// pipelines matching these filters, implementations should return
	// ErrNoPipelines.
	GetPipelineID(remote, name string) (int, error)
	UpdatePipeline(*Pipeline) error

	// CreateRun saves a run, setting its count to the next one for
	// its pipeline.
	CreateRun(*Run) error
	// GetRun returns the nth run for the pipeline with the passed
	// in ID from the store, with its jobs. If a run with that count
	// isn't found ErrRunNotFound is returned.
	GetRun(pid, n int) (Run, error)
	UpdateRun(*Run) error

	CreateJob(*Job) error
	// GetJob returns the job with the given ID and its steps. If no
	// job with that ID is found, ErrJobNotFound should be returned.
	GetJob(id int) (Job, error)
	UpdateJob(*Job) error

	CreateStep(*Step) error
	// GetStep returns the step with the given ID from the store.
	// If no step with that ID is found, ErrStepNotFound should
	// be returned.
	GetStep(id int) (Step, error)
	UpdateStep(*Step) error

	// CreateUser saves the user, hashing its password.
	CreateUser(*User) error
	// Authenticate returns ErrNotAuthenticated unless the password
	// matches the one saved for the user.
	Authenticate(email, pass string) error
}

// Pipeline is a workflow registered on a git remote.
type Pipeline struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Remote  string `json:"remote"`
	Success *bool  `json:"success"`

	// Definition is the workflow file, kept verbatim so that it can
	// be parsed with whatever defaults apply at run time.
	Definition string `json:"definition,omitempty"`

	Runs []Run `json:"runs,omitempty"`
}

// Run is one triggering of a pipeline by an event. Every run has a job
// per matrix entry.
type Run struct {
	Count   int        `json:"count"`
	Start   *time.Time `json:"start"`
	End     *time.Time `json:"end"`
	Success *bool      `json:"success"` // mid-run is neither success nor failure

	Event workflow.Event `json:"event"`

	// This attribute is necessary to have here because a run can only be
	// identified by the combination of its pipeline and its place.
	PipelineID int `json:"pipeline_id"`

	Jobs []Job `json:"jobs,omitempty"`
}

// Job is the state of execution of a single matrix entry.
type Job struct {
	ID            int        `json:"id"`
	PythonVersion string     `json:"python_version"`
	Status        string     `json:"status"`
	Start         *time.Time `json:"start"`
	End           *time.Time `json:"end"`

	// Error is the failure kind, Message the full failure.
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	PipelineID int `json:"pipeline_id"`
	RunCount   int `json:"run_count"`

	Steps []Step `json:"steps,omitempty"`
}

// Step is the state of execution of one stage of a job.
type Step struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	Start    *time.Time `json:"start"`
	End      *time.Time `json:"end"`
	Success  *bool      `json:"success"` // mid-run is neither success nor failure
	ExitCode int        `json:"exit_code"`

	JobID int `json:"job_id"`
}

// User is an entity that's authorized to interact with the CI system.
type User struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// MarkSuccess is a convenience method for setting the success status.
func (p *Pipeline) MarkSuccess(s bool) {
	p.Success = &s
}

// Failed is a convenience method for checking the success status
// for a failure.
func (p *Pipeline) Failed() bool {
	return p.Success != nil && !*p.Success
}

// SetStart is a convenience method for setting the start time pointer.
func (r *Run) SetStart() {
	t := time.Now()
	r.Start = &t
}

// SetEnd is a convenience method for setting the end time pointer.
func (r *Run) SetEnd() {
	t := time.Now()
	r.End = &t
}

// MarkSuccess is a convenience method for setting the success status.
func (r *Run) MarkSuccess(s bool) {
	r.Success = &s
}

// Failed is a convenience method for checking the success status
// for a failure.
func (r *Run) Failed() bool {
	return r.Success != nil && !*r.Success
}

// SetStart is a convenience method for setting the start time pointer.
func (j *Job) SetStart() {
	t := time.Now()
	j.Start = &t
}

// SetEnd is a convenience method for setting the end time pointer.
func (j *Job) SetEnd() {
	t := time.Now()
	j.End = &t
}

// SetStart is a convenience method for setting the start time pointer.
func (st *Step) SetStart() {
	t := time.Now()
	st.Start = &t
}

// SetEnd is a convenience method for setting the end time pointer.
func (st *Step) SetEnd() {
	t := time.Now()
	st.End = &t
}

// MarkSuccess is a convenience method for setting the success status.
func (st *Step) MarkSuccess(s bool) {
	st.Success = &s
}
