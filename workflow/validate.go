package workflow

import (
	"errors"
	"fmt"
	"regexp"
)

// Event kinds a workflow can be triggered by.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

var (
	// ErrInvalidWorkflow wraps every validation problem found in
	// a workflow.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	identifier = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Validate checks the workflow for problems, reporting all of them at
// once.
func (w *Workflow) Validate() error {
	var errs []error

	if len(w.Triggers) == 0 {
		errs = append(errs, errors.New("no triggers configured"))
	}

	for kind, trigger := range w.Triggers {
		if !KnownEvent(kind) {
			errs = append(errs, fmt.Errorf("unknown trigger event %q", kind))
		}

		for _, b := range trigger.Branches {
			if b == "" {
				errs = append(errs, fmt.Errorf("empty branch name in %v trigger", kind))
			}
		}
	}

	versions := w.Strategy.Matrix.PythonVersion
	if len(versions) == 0 {
		errs = append(errs, errors.New("matrix python-version is empty"))
	}

	seen := make(map[string]bool, len(versions))
	for _, v := range versions {
		if !identifier.MatchString(v) {
			errs = append(errs, fmt.Errorf("invalid python-version %q", v))
			continue
		}

		if seen[v] {
			errs = append(errs, fmt.Errorf("duplicate python-version %q", v))
		}
		seen[v] = true
	}

	if w.Strategy.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("max-parallel must not be negative, got %v", w.Strategy.MaxParallel))
	}

	if w.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}

	for _, dep := range w.Install.BuildDeps {
		if dep == "" {
			errs = append(errs, errors.New("empty build dependency"))
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w %v: %w", ErrInvalidWorkflow, w.Name, errors.Join(errs...))
}

// KnownEvent reports whether kind is an event a workflow can be
// triggered by.
func KnownEvent(kind string) bool {
	return kind == EventPush || kind == EventPullRequest
}
