package docker

import (
	"testing"

	"github.com/run-ci/matrix/runner"
	"github.com/run-ci/matrix/workflow"
	"github.com/stretchr/testify/assert"
)

func testJob(ev workflow.Event) runner.Job {
	return runner.Job{
		Workflow: &workflow.Workflow{
			Name: "ci",
			Environment: workflow.Environment{
				Env: map[string]string{"PIP_NO_CACHE_DIR": "1", "CI": "yes"},
			},
		},
		Entry: workflow.Entry{PythonVersion: "3.7"},
		Event: ev,
	}
}

func TestSourceClonesBranch(t *testing.T) {
	p := &Provisioner{}
	spec := p.source(testJob(workflow.Event{
		Kind:   workflow.EventPush,
		Ref:    "refs/heads/master",
		Remote: "https://example.com/project.git",
	}))

	assert.Equal(t, DefaultGitImage, spec.image)
	assert.Equal(t, []string{"git"}, spec.entrypoint)
	assert.Equal(t, [][]string{
		{"clone", "--quiet", "--depth", "1", "--branch", "master", "https://example.com/project.git", "."},
	}, spec.cmds)
	assert.Empty(t, spec.binds)
}

func TestSourceChecksOutCommit(t *testing.T) {
	p := &Provisioner{GitImage: "git:custom"}
	spec := p.source(testJob(workflow.Event{
		Kind:   workflow.EventPullRequest,
		Branch: "master",
		Commit: "abc123",
		Remote: "//test.git",
	}))

	assert.Equal(t, "git:custom", spec.image)
	assert.Equal(t, [][]string{
		{"clone", "--quiet", "//test.git", "."},
		{"checkout", "--quiet", "abc123"},
	}, spec.cmds)
}

func TestSourceCopiesLocalDirectory(t *testing.T) {
	p := &Provisioner{Source: "/home/dev/project"}
	spec := p.source(testJob(workflow.Event{Kind: workflow.EventPush, Branch: "master"}))

	assert.Equal(t, DefaultCopyImage, spec.image)
	assert.Nil(t, spec.entrypoint)
	assert.Equal(t, [][]string{{"cp", "-a", "/src/.", "/ci/"}}, spec.cmds)
	assert.Equal(t, []string{"/home/dev/project:/src:ro"}, spec.binds)
}

func TestEnvVars(t *testing.T) {
	env := envVars(testJob(workflow.Event{
		Kind:   workflow.EventPush,
		Branch: "master",
		Commit: "abc123",
	}))

	assert.Equal(t, []string{
		"CI=yes",
		"CI_BRANCH=master",
		"CI_COMMIT=abc123",
		"CI_EVENT=push",
		"CI_WORKFLOW=ci",
		"PIP_NO_CACHE_DIR=1",
		"PYTHON_VERSION=3.7",
	}, env)
}
