// Package runner runs a workflow's matrix. Every matrix entry becomes an
// independent job that provisions an environment, installs the project
// and runs its tests, strictly in that order.
package runner

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/run-ci/matrix/workflow"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "runner",
	})
}

// Stage is one of the three sequential steps of a job.
type Stage string

// Stages in the order they run.
const (
	StageProvision Stage = "provision"
	StageInstall   Stage = "install"
	StageTest      Stage = "test"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageProvision, StageInstall, StageTest}

// Status is the state of a job.
type Status string

// Job statuses. Success, failure and cancelled are terminal.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancelled
}

// Job is a single matrix entry of a triggered workflow.
type Job struct {
	Workflow *workflow.Workflow
	Entry    workflow.Entry
	Event    workflow.Event
}

// Image is the image the job runs in.
func (j Job) Image() string {
	return j.Workflow.Image(j.Entry)
}

// Provisioner acquires execution environments.
type Provisioner interface {
	// Provision returns an environment matching the job's interpreter
	// version, populated with the project source.
	Provision(ctx context.Context, job Job) (Environment, error)
}

// Environment is an execution environment owned by one job for its
// whole duration.
type Environment interface {
	// Exec runs cmd in the environment's working directory, writing
	// its output to out. A non-nil error means the command couldn't be
	// run to completion; otherwise its exit code is returned.
	Exec(ctx context.Context, cmd string, out io.Writer) (int, error)
	// Teardown discards the environment.
	Teardown(ctx context.Context) error
}

// StepResult is the outcome of one stage of a job.
type StepResult struct {
	Stage    Stage
	ExitCode int
	Start    time.Time
	End      time.Time
	Err      error
}

// Success reports whether the stage completed cleanly.
func (sr StepResult) Success() bool {
	return sr.Err == nil
}

// JobResult is the terminal outcome of a job.
type JobResult struct {
	Entry  workflow.Entry
	Status Status
	Err    error
	Start  time.Time
	End    time.Time
	Steps  []StepResult
}

// Kind names the failure kind of the job, "" on success.
func (jr JobResult) Kind() string {
	return KindOf(jr.Err)
}

// Result is the outcome of a triggered workflow: one job result per
// matrix entry, in matrix order.
type Result struct {
	Workflow string
	Event    workflow.Event
	Jobs     []JobResult
}

// Success reports whether every job succeeded.
func (r *Result) Success() bool {
	for _, j := range r.Jobs {
		if j.Status != StatusSuccess {
			return false
		}
	}

	return len(r.Jobs) > 0
}

// Runner runs jobs against a Provisioner.
type Runner struct {
	Provisioner Provisioner
	Reporter    Reporter

	// Output returns the writer a job's command output goes to. It's
	// closed when the job finishes. By default output is logged at
	// debug level.
	Output func(Job) io.WriteCloser
}

// New returns a Runner provisioning environments with p and reporting
// job lifecycle events to r, which may be nil.
func New(p Provisioner, r Reporter) *Runner {
	return &Runner{
		Provisioner: p,
		Reporter:    r,
	}
}

// Run runs the workflow's matrix for the event. If the event doesn't
// trigger the workflow ErrNotTriggered is returned and nothing runs.
//
// Jobs run concurrently, bounded by the workflow's max-parallel. With
// fail-fast disabled every job runs to completion no matter what its
// siblings do. With fail-fast enabled the first failing job cancels the
// rest.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, ev workflow.Event) (*Result, error) {
	logger := logger.WithFields(log.Fields{
		"workflow": wf.Name,
		"event":    ev.Kind,
		"branch":   ev.TargetBranch(),
	})

	if !wf.Match(ev) {
		logger.Debug("event doesn't match workflow triggers")
		return nil, ErrNotTriggered
	}

	entries := wf.Entries()
	res := &Result{
		Workflow: wf.Name,
		Event:    ev,
		Jobs:     make([]JobResult, len(entries)),
	}

	failfast := wf.FailFastEnabled()

	g := &errgroup.Group{}
	jobctx := ctx
	if failfast {
		g, jobctx = errgroup.WithContext(ctx)
	}

	if n := wf.Strategy.MaxParallel; n > 0 {
		g.SetLimit(n)
	}

	logger.WithFields(log.Fields{
		"jobs":      len(entries),
		"fail_fast": failfast,
	}).Info("running matrix")

	for i, entry := range entries {
		res.Jobs[i] = JobResult{Entry: entry, Status: StatusPending}

		job := Job{Workflow: wf, Entry: entry, Event: ev}
		g.Go(func() error {
			res.Jobs[i] = r.RunJob(jobctx, job)

			// Returning the error is what cancels jobctx, so it's
			// only done when siblings should stop.
			if failfast && res.Jobs[i].Status == StatusFailure {
				return res.Jobs[i].Err
			}

			return nil
		})
	}

	g.Wait()

	logger.WithField("success", res.Success()).Info("matrix finished")

	return res, nil
}

// RunJob provisions an environment for the job, installs the project and
// runs its tests. Each stage only runs if the previous one succeeded.
func (r *Runner) RunJob(ctx context.Context, job Job) JobResult {
	logger := logger.WithFields(log.Fields{
		"workflow":       job.Workflow.Name,
		"python_version": job.Entry.PythonVersion,
	})

	rep := r.reporter()

	res := JobResult{
		Entry:  job.Entry,
		Status: StatusRunning,
		Start:  time.Now(),
	}
	rep.JobStarted(job)

	finish := func(st Stage, err error) JobResult {
		res.End = time.Now()

		switch {
		case err == nil:
			res.Status = StatusSuccess
		case errors.Is(err, ErrCancelled):
			res.Status = StatusCancelled
		default:
			res.Status = StatusFailure
		}

		res.Err = err

		switch res.Status {
		case StatusSuccess:
			logger.Info("job succeeded")
		case StatusCancelled:
			logger.WithError(err).WithField("stage", st).Info("job cancelled")
		default:
			logger.WithError(err).WithField("stage", st).Warn("job failed")
		}

		rep.JobFinished(job, res)
		return res
	}

	parent := ctx

	// cancelled stops the job before st when its siblings were
	// cancelled.
	cancelled := func(st Stage) error {
		if parent.Err() == nil {
			return nil
		}

		return &JobError{Entry: job.Entry, Stage: st, Kind: ErrCancelled, Err: parent.Err()}
	}

	if err := cancelled(StageProvision); err != nil {
		return finish(StageProvision, err)
	}

	if timeout := time.Duration(job.Workflow.Timeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := r.output(job)
	defer out.Close()

	var env Environment
	sr := r.stage(ctx, parent, job, StageProvision, func() (int, error) {
		var err error
		env, err = r.Provisioner.Provision(ctx, job)
		return 0, err
	})
	res.Steps = append(res.Steps, sr)

	if env != nil {
		defer func() {
			// The job's context may be done by now, teardown still has
			// to happen.
			if err := env.Teardown(context.Background()); err != nil {
				logger.WithError(err).Error("unable to tear down environment")
			}
		}()
	}

	if sr.Err != nil {
		return finish(StageProvision, sr.Err)
	}
	if err := cancelled(StageInstall); err != nil {
		return finish(StageInstall, err)
	}

	sr = r.stage(ctx, parent, job, StageInstall, func() (int, error) {
		for _, cmd := range job.Workflow.InstallCommands() {
			logger.WithField("cmd", cmd).Debug("running install command")

			code, err := env.Exec(ctx, cmd, out)
			if err != nil || code != 0 {
				return code, err
			}
		}

		return 0, nil
	})
	res.Steps = append(res.Steps, sr)
	if sr.Err != nil {
		return finish(StageInstall, sr.Err)
	}
	if err := cancelled(StageTest); err != nil {
		return finish(StageTest, err)
	}

	sr = r.stage(ctx, parent, job, StageTest, func() (int, error) {
		cmd := job.Workflow.TestCommand()
		logger.WithField("cmd", cmd).Debug("running test command")

		return env.Exec(ctx, cmd, out)
	})
	res.Steps = append(res.Steps, sr)

	return finish(StageTest, sr.Err)
}

// stage runs fn as the given stage, translating its outcome into a
// StepResult. Any error or non-zero exit code fails the stage with the
// stage's failure kind, unless the parent context was cancelled in
// which case the job is cancelled. A stage that completed cleanly
// succeeds even if the context was done by then.
func (r *Runner) stage(ctx, parent context.Context, job Job, st Stage, fn func() (int, error)) StepResult {
	rep := r.reporter()
	rep.StepStarted(job, st)

	sr := StepResult{Stage: st, Start: time.Now()}
	code, err := fn()
	sr.End = time.Now()
	sr.ExitCode = code

	switch {
	case err == nil && code == 0:
	case parent.Err() != nil:
		sr.Err = &JobError{Entry: job.Entry, Stage: st, Kind: ErrCancelled, Err: parent.Err()}
	case ctx.Err() != nil:
		sr.Err = &JobError{Entry: job.Entry, Stage: st, Kind: stageFailure(st), Err: ErrTimedOut}
	case err != nil:
		sr.Err = &JobError{Entry: job.Entry, Stage: st, Kind: stageFailure(st), Err: err}
	case code != 0:
		sr.Err = &JobError{Entry: job.Entry, Stage: st, Kind: stageFailure(st), ExitCode: code}
	}

	rep.StepFinished(job, sr)
	return sr
}

func (r *Runner) reporter() Reporter {
	if r.Reporter == nil {
		return nopReporter{}
	}

	return r.Reporter
}

func (r *Runner) output(job Job) io.WriteCloser {
	if r.Output != nil {
		return r.Output(job)
	}

	return logger.WithFields(log.Fields{
		"workflow":       job.Workflow.Name,
		"python_version": job.Entry.PythonVersion,
	}).WriterLevel(log.DebugLevel)
}
