package http

import (
	"net/http"
	"testing"

	"github.com/run-ci/matrix/store"
)

func TestGetJob(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte), newMemStore(t), testSecret)

	resp := do(t, srv, http.MethodGet, "/jobs/1", nil, validToken())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status code %v, got %v", http.StatusOK, resp.StatusCode)
	}

	var actual store.Job
	decode(t, resp, &actual)

	if actual.PythonVersion != "3.6" {
		t.Fatalf("expected python 3.6, got %v", actual.PythonVersion)
	}

	if len(actual.Steps) != 1 || actual.Steps[0].Name != "install" {
		t.Fatalf("expected the install step, got %+v", actual.Steps)
	}

	resp = do(t, srv, http.MethodGet, "/jobs/3", nil, validToken())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status code %v, got %v", http.StatusNotFound, resp.StatusCode)
	}
}
