package main

import (
	"sync"
	"time"

	"github.com/run-ci/matrix/runner"
	"github.com/run-ci/matrix/store"
	"github.com/run-ci/matrix/workflow"
	log "github.com/sirupsen/logrus"
)

// recordStore is the part of the store the recorder writes to.
type recordStore interface {
	UpdatePipeline(*store.Pipeline) error

	CreateRun(*store.Run) error
	UpdateRun(*store.Run) error

	CreateJob(*store.Job) error
	UpdateJob(*store.Job) error

	CreateStep(*store.Step) error
	UpdateStep(*store.Step) error
}

// recorder saves the lifecycle of one run of a pipeline. It's a
// runner.Reporter: store errors are logged and never fail a job.
type recorder struct {
	st       recordStore
	pipeline *store.Pipeline
	run      *store.Run

	mu    sync.Mutex
	jobs  map[int]*store.Job  // by matrix index
	steps map[int]*store.Step // running step by matrix index
}

// newRecorder creates the run and a pending job per matrix entry so
// that the whole matrix is visible before anything starts. Only a
// failure to create the run is returned, jobs that can't be saved are
// left out of the record.
func newRecorder(st recordStore, p *store.Pipeline, ev workflow.Event, entries []workflow.Entry) (*recorder, error) {
	run := &store.Run{
		PipelineID: p.ID,
		Event:      ev,
	}
	run.SetStart()

	if err := st.CreateRun(run); err != nil {
		return nil, err
	}

	rec := &recorder{
		st:       st,
		pipeline: p,
		run:      run,
		jobs:     map[int]*store.Job{},
		steps:    map[int]*store.Step{},
	}

	for _, e := range entries {
		j := &store.Job{
			PipelineID:    p.ID,
			RunCount:      run.Count,
			PythonVersion: e.PythonVersion,
			Status:        string(runner.StatusPending),
		}

		if err := st.CreateJob(j); err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"pipeline_id":    p.ID,
				"run":            run.Count,
				"python_version": e.PythonVersion,
			}).Error("unable to save job")
			continue
		}

		rec.jobs[e.Index] = j
	}

	return rec, nil
}

func (rec *recorder) logger(job runner.Job) *log.Entry {
	return logger.WithFields(log.Fields{
		"pipeline_id":    rec.pipeline.ID,
		"run":            rec.run.Count,
		"python_version": job.Entry.PythonVersion,
	})
}

// JobStarted is part of the runner.Reporter interface.
func (rec *recorder) JobStarted(job runner.Job) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	j, ok := rec.jobs[job.Entry.Index]
	if !ok {
		return
	}

	j.Status = string(runner.StatusRunning)
	j.SetStart()

	if err := rec.st.UpdateJob(j); err != nil {
		rec.logger(job).WithError(err).Error("unable to save job start")
	}
}

// StepStarted is part of the runner.Reporter interface.
func (rec *recorder) StepStarted(job runner.Job, st runner.Stage) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	j, ok := rec.jobs[job.Entry.Index]
	if !ok {
		return
	}

	s := &store.Step{
		Name:  string(st),
		JobID: j.ID,
	}
	s.SetStart()

	if err := rec.st.CreateStep(s); err != nil {
		rec.logger(job).WithError(err).Error("unable to save step")
		return
	}

	rec.steps[job.Entry.Index] = s
}

// StepFinished is part of the runner.Reporter interface.
func (rec *recorder) StepFinished(job runner.Job, sr runner.StepResult) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	s, ok := rec.steps[job.Entry.Index]
	if !ok {
		return
	}
	delete(rec.steps, job.Entry.Index)

	s.ExitCode = sr.ExitCode
	s.MarkSuccess(sr.Success())
	s.End = timeptr(sr.End)

	if err := rec.st.UpdateStep(s); err != nil {
		rec.logger(job).WithError(err).Error("unable to save step result")
	}
}

// JobFinished is part of the runner.Reporter interface.
func (rec *recorder) JobFinished(job runner.Job, res runner.JobResult) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	j, ok := rec.jobs[job.Entry.Index]
	if !ok {
		return
	}

	j.Status = string(res.Status)
	j.Error = res.Kind()
	if res.Err != nil {
		j.Message = res.Err.Error()
	}
	j.Start = timeptr(res.Start)
	j.End = timeptr(res.End)

	if err := rec.st.UpdateJob(j); err != nil {
		rec.logger(job).WithError(err).Error("unable to save job result")
	}
}

// finish saves the outcome of the run and of the pipeline.
func (rec *recorder) finish(res *runner.Result) error {
	ok := res.Success()

	rec.run.SetEnd()
	rec.run.MarkSuccess(ok)
	if err := rec.st.UpdateRun(rec.run); err != nil {
		return err
	}

	rec.pipeline.MarkSuccess(ok)
	return rec.st.UpdatePipeline(rec.pipeline)
}

func timeptr(t time.Time) *time.Time {
	return &t
}
