package http

import (
	"net/http"
	"testing"

	"github.com/run-ci/matrix/store"
	"github.com/run-ci/matrix/workflow"
)

func TestGetRun(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte), newMemStore(t), testSecret)

	resp := do(t, srv, http.MethodGet, "/pipelines/1/runs/1", nil, validToken())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status code %v, got %v", http.StatusOK, resp.StatusCode)
	}

	var actual store.Run
	decode(t, resp, &actual)

	if actual.Count != 1 || actual.PipelineID != 1 {
		t.Fatalf("expected run 1 of pipeline 1, got %+v", actual)
	}

	if actual.Event.Kind != workflow.EventPush || actual.Event.Branch != "master" {
		t.Fatalf("expected push to master, got %+v", actual.Event)
	}

	if len(actual.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %v", len(actual.Jobs))
	}

	for i, v := range []string{"3.6", "3.7"} {
		if actual.Jobs[i].PythonVersion != v {
			t.Fatalf("expected job %v to be python %v, got %+v", i, v, actual.Jobs[i])
		}
	}

	resp = do(t, srv, http.MethodGet, "/pipelines/1/runs/2", nil, validToken())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status code %v, got %v", http.StatusNotFound, resp.StatusCode)
	}
}
