package main

import (
	"context"
	"encoding/json"

	"github.com/run-ci/matrix/queue"
	"github.com/run-ci/matrix/runner"
	"github.com/run-ci/matrix/store"
)

// busReporter publishes every terminal job status on the bus.
type busReporter struct {
	ch       chan<- []byte
	backoff  queue.Backoff
	pipeline *store.Pipeline
	run      *store.Run
}

func (b *busReporter) JobStarted(runner.Job)                      {}
func (b *busReporter) StepStarted(runner.Job, runner.Stage)       {}
func (b *busReporter) StepFinished(runner.Job, runner.StepResult) {}

// JobFinished is part of the runner.Reporter interface.
func (b *busReporter) JobFinished(job runner.Job, res runner.JobResult) {
	logger := logger.WithField("python_version", res.Entry.PythonVersion)

	msg, err := json.Marshal(newStatusMessage(b.pipeline, b.run, res))
	if err != nil {
		logger.WithError(err).Error("unable to marshal status")
		return
	}

	if err := queue.SendWithBackoff(context.Background(), b.ch, msg, b.backoff); err != nil {
		logger.WithError(err).Error("unable to publish status")
	}
}
