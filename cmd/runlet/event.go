package main

import (
	"encoding/json"

	"github.com/run-ci/matrix/runner"
	"github.com/run-ci/matrix/store"
	"github.com/run-ci/matrix/workflow"
)

// statusMessage is published on the statuses subject every time a job
// reaches a terminal status.
type statusMessage struct {
	PipelineID int            `json:"pipeline_id"`
	Pipeline   string         `json:"pipeline"`
	RunCount   int            `json:"run_count"`
	Event      workflow.Event `json:"event"`

	PythonVersion string `json:"python_version"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

// decodeEvent reads an event off the bus and checks it can be matched
// against triggers.
func decodeEvent(msg []byte) (workflow.Event, error) {
	var ev workflow.Event

	if err := json.Unmarshal(msg, &ev); err != nil {
		return ev, err
	}

	return ev, ev.Validate()
}

func newStatusMessage(p *store.Pipeline, run *store.Run, res runner.JobResult) statusMessage {
	msg := statusMessage{
		PipelineID:    p.ID,
		Pipeline:      p.Name,
		RunCount:      run.Count,
		Event:         run.Event,
		PythonVersion: res.Entry.PythonVersion,
		Status:        string(res.Status),
		Error:         res.Kind(),
	}

	if res.Err != nil {
		msg.Message = res.Err.Error()
	}

	return msg
}
