package workflow

import (
	"errors"
	"fmt"
	"strings"
)

const branchRefPrefix = "refs/heads/"

// Event is a push or pull request that may trigger a workflow.
type Event struct {
	Kind string `json:"kind"`

	// Branch is the pushed branch, or the target branch of a
	// pull request.
	Branch string `json:"branch,omitempty"`
	// Ref is the full ref of a push. It's only consulted when
	// Branch is empty.
	Ref    string `json:"ref,omitempty"`
	Commit string `json:"commit,omitempty"`

	// Remote is the URL of the repository the event happened on.
	Remote string `json:"remote"`
}

// TargetBranch returns the branch the event applies to, or "" if it
// can't be determined. Refs outside refs/heads, like tags, have no
// branch.
func (ev Event) TargetBranch() string {
	if ev.Branch != "" {
		return ev.Branch
	}

	if strings.HasPrefix(ev.Ref, branchRefPrefix) {
		return strings.TrimPrefix(ev.Ref, branchRefPrefix)
	}

	return ""
}

// Validate checks that the event carries enough to be matched.
func (ev Event) Validate() error {
	if !KnownEvent(ev.Kind) {
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	if ev.TargetBranch() == "" {
		return errors.New("event has no branch")
	}

	return nil
}

// Match reports whether the event triggers the workflow: a trigger
// must be configured for its kind and, if that trigger lists branches,
// the event's branch must be one of them.
func (w *Workflow) Match(ev Event) bool {
	trigger, ok := w.Triggers[ev.Kind]
	if !ok {
		return false
	}

	branch := ev.TargetBranch()
	if branch == "" {
		return false
	}

	return trigger.MatchBranch(branch)
}

// MatchBranch reports whether the trigger accepts the branch.
func (t Trigger) MatchBranch(branch string) bool {
	if len(t.Branches) == 0 {
		return true
	}

	for _, b := range t.Branches {
		if b == branch {
			return true
		}
	}

	return false
}
