package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/run-ci/matrix/runner"
	"github.com/run-ci/matrix/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	ok := runner.Job{Entry: workflow.Entry{Index: 0, PythonVersion: "3.7"}}
	bad := runner.Job{Entry: workflow.Entry{Index: 1, PythonVersion: "3.6"}}

	m.JobStarted(ok)
	m.JobStarted(bad)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsRunning))

	m.JobFinished(ok, runner.JobResult{Entry: ok.Entry, Status: runner.StatusSuccess})
	m.JobFinished(bad, runner.JobResult{
		Entry:  bad.Entry,
		Status: runner.StatusFailure,
		Err:    &runner.JobError{Entry: bad.Entry, Stage: runner.StageInstall, ExitCode: 1, Kind: runner.ErrBuildFailure},
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("3.7", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("3.6", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobFailures.WithLabelValues("3.6", runner.KindBuildFailure)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobFailures))
}

func TestStepDurations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	start := time.Now()
	job := runner.Job{Entry: workflow.Entry{PythonVersion: "3.7"}}

	m.StepFinished(job, runner.StepResult{Stage: runner.StageProvision, Start: start, End: start.Add(2 * time.Second)})
	m.StepFinished(job, runner.StepResult{Stage: runner.StageTest, Start: start, End: start.Add(time.Second), Err: fmt.Errorf("boom")})

	families, err := reg.Gather()
	require.NoError(t, err)

	var samples uint64
	for _, f := range families {
		if f.GetName() != "matrix_step_duration_seconds" {
			continue
		}

		for _, metric := range f.GetMetric() {
			samples += metric.GetHistogram().GetSampleCount()
		}
	}

	assert.Equal(t, uint64(2), samples)
	assert.Equal(t, 2, testutil.CollectAndCount(m.stepDurations))
}
