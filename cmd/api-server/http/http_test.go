package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/run-ci/matrix/store"
	"github.com/run-ci/matrix/workflow"
)

const testSecret = "test"

const testDefinition = `
triggers:
  push:
    branches: master
  pull_request:
    branches: [master]
strategy:
  matrix:
    python-version: [3.6, 3.7]
`

// memStore is the in-memory store seeded with a pipeline that has one
// run of two jobs, the first of which failed to install.
type memStore struct {
	*store.Memory
}

func newMemStore(t *testing.T) *memStore {
	st := &memStore{store.NewMemory()}

	p := store.Pipeline{Name: "ci", Remote: "//test.git", Definition: testDefinition}
	if err := st.CreatePipeline(&p); err != nil {
		t.Fatalf("error seeding pipeline: %v", err)
	}

	if err := st.CreatePipeline(&store.Pipeline{Name: "ci", Remote: "//other.git"}); err != nil {
		t.Fatalf("error seeding pipeline: %v", err)
	}

	r := store.Run{
		PipelineID: p.ID,
		Event:      workflow.Event{Kind: workflow.EventPush, Branch: "master", Remote: "//test.git"},
	}
	r.SetStart()
	if err := st.CreateRun(&r); err != nil {
		t.Fatalf("error seeding run: %v", err)
	}

	for _, v := range []string{"3.6", "3.7"} {
		j := store.Job{PipelineID: p.ID, RunCount: r.Count, PythonVersion: v, Status: "running"}
		if err := st.CreateJob(&j); err != nil {
			t.Fatalf("error seeding job: %v", err)
		}
	}

	s := store.Step{JobID: 1, Name: "install", ExitCode: 1}
	s.MarkSuccess(false)
	if err := st.CreateStep(&s); err != nil {
		t.Fatalf("error seeding step: %v", err)
	}

	if err := st.CreateUser(&store.User{Email: "user@test", Password: "pass"}); err != nil {
		t.Fatalf("error seeding user: %v", err)
	}

	return st
}

// do sends a request through the server's router, authorized unless
// token is empty.
func do(t *testing.T, srv *Server, method, url string, body interface{}, token string) *http.Response {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("error marshaling request body: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, url, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rw := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rw, req)

	return rw.Result()
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("got error reading response body: %v", err)
	}

	if err := json.Unmarshal(buf, v); err != nil {
		t.Fatalf("got error unmarshaling response body %s: %v", buf, err)
	}
}

func validToken() string {
	return gentoken(time.Now().Add(15*time.Minute), []byte(testSecret), jwt.SigningMethodHS256)
}

func gentoken(exp time.Time, secret []byte, signMethod jwt.SigningMethod) string {
	claims := &jwt.StandardClaims{
		ExpiresAt: exp.Unix(),
		Subject:   "user@test",
	}

	token := jwt.NewWithClaims(signMethod, claims)
	ss, _ := token.SignedString(secret)

	return ss
}

func TestGetRoot(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte), newMemStore(t), testSecret)

	resp := do(t, srv, http.MethodGet, "/", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status code %v, got %v", http.StatusOK, resp.StatusCode)
	}
}

func TestRoutesNeedAuth(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte), newMemStore(t), testSecret)

	routes := []struct {
		method string
		url    string
	}{
		{http.MethodGet, "/pipelines"},
		{http.MethodPost, "/pipelines"},
		{http.MethodGet, "/pipelines/1"},
		{http.MethodGet, "/pipelines/1/runs/1"},
		{http.MethodGet, "/jobs/1"},
		{http.MethodGet, "/steps/1"},
		{http.MethodPost, "/events"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.url, func(t *testing.T) {
			resp := do(t, srv, route.method, route.url, nil, "")
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected status code %v, got %v", http.StatusUnauthorized, resp.StatusCode)
			}
		})
	}
}

func TestOversizedBodies(t *testing.T) {
	eventch := make(chan []byte, 1)
	srv := NewServer(":9001", eventch, newMemStore(t), testSecret)

	body := map[string]string{
		"remote":     "//test.git",
		"definition": strings.Repeat("#", maxBodyBytes),
	}

	for _, url := range []string{"/auth", "/pipelines", "/events"} {
		t.Run(url, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, url, body, validToken())
			if resp.StatusCode != http.StatusRequestEntityTooLarge {
				t.Fatalf("expected status code %v, got %v", http.StatusRequestEntityTooLarge, resp.StatusCode)
			}
		})
	}

	select {
	case msg := <-eventch:
		t.Fatalf("expected nothing published, got %s", msg)
	default:
	}
}
