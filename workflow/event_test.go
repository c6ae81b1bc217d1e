package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	wf, err := Parse("test", []byte(ciYAML))
	require.NoError(t, err)

	tests := []struct {
		label    string
		event    Event
		expected bool
	}{
		{"push to master", Event{Kind: EventPush, Branch: "master"}, true},
		{"push ref to master", Event{Kind: EventPush, Ref: "refs/heads/master"}, true},
		{"pull request into master", Event{Kind: EventPullRequest, Branch: "master"}, true},
		{"push to feature branch", Event{Kind: EventPush, Branch: "feature"}, false},
		{"pull request into develop", Event{Kind: EventPullRequest, Branch: "develop"}, false},
		{"tag push", Event{Kind: EventPush, Ref: "refs/tags/master"}, false},
		{"unknown kind", Event{Kind: "release", Branch: "master"}, false},
		{"no branch", Event{Kind: EventPush}, false},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			assert.Equal(t, test.expected, wf.Match(test.event))
		})
	}
}

func TestMatchOnlyConfiguredKinds(t *testing.T) {
	wf, err := Parse("test", []byte(`
triggers:
  pull_request:
strategy:
  matrix:
    python-version: ["3.8"]
`))
	require.NoError(t, err)

	assert.True(t, wf.Match(Event{Kind: EventPullRequest, Branch: "anything"}),
		"a trigger without branches matches every branch")
	assert.False(t, wf.Match(Event{Kind: EventPush, Branch: "anything"}))
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, Event{Kind: EventPush, Ref: "refs/heads/main"}.Validate())
	assert.Error(t, Event{Kind: "deploy", Branch: "main"}.Validate())
	assert.Error(t, Event{Kind: EventPullRequest}.Validate())
	assert.Equal(t, "main", Event{Kind: EventPush, Branch: "main", Ref: "refs/heads/other"}.TargetBranch())
}
