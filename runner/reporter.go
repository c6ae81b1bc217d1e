package runner

// Reporter is told about every job's lifecycle. Jobs run concurrently so
// implementations have to be safe for concurrent use. Reporting can't
// fail a job: implementations deal with their own errors.
type Reporter interface {
	JobStarted(job Job)
	StepStarted(job Job, st Stage)
	StepFinished(job Job, sr StepResult)
	JobFinished(job Job, res JobResult)
}

// Reporters fans lifecycle events out to every reporter in order.
type Reporters []Reporter

// JobStarted is part of the Reporter interface.
func (rs Reporters) JobStarted(job Job) {
	for _, r := range rs {
		r.JobStarted(job)
	}
}

// StepStarted is part of the Reporter interface.
func (rs Reporters) StepStarted(job Job, st Stage) {
	for _, r := range rs {
		r.StepStarted(job, st)
	}
}

// StepFinished is part of the Reporter interface.
func (rs Reporters) StepFinished(job Job, sr StepResult) {
	for _, r := range rs {
		r.StepFinished(job, sr)
	}
}

// JobFinished is part of the Reporter interface.
func (rs Reporters) JobFinished(job Job, res JobResult) {
	for _, r := range rs {
		r.JobFinished(job, res)
	}
}

type nopReporter struct{}

func (nopReporter) JobStarted(Job) {}
func (nopReporter) StepStarted(Job, Stage) {}
func (nopReporter) StepFinished(Job, StepResult) {}
func (nopReporter) JobFinished(Job, JobResult) {}
