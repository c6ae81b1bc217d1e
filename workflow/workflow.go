// Package workflow holds the build-and-test workflow definition: which
// events trigger it, which interpreter versions make up its matrix and
// which commands each matrix job runs.
package workflow

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "workflow",
	})
}

// Defaults applied to fields left empty in a workflow file.
const (
	DefaultImage       = "python"
	DefaultTestCommand = "python setup.py test"
	DefaultBuildDep    = "cython"
)

type (
	// Workflow is the structural representation of a workflow file.
	Workflow struct {
		Name        string      `yaml:"name"`
		Triggers    Triggers    `yaml:"triggers"`
		Strategy    Strategy    `yaml:"strategy"`
		Environment Environment `yaml:"environment"`
		Install     Install     `yaml:"install"`
		Test        Test        `yaml:"test"`

		// Timeout bounds a single job. Zero means no timeout.
		Timeout Duration `yaml:"timeout"`
	}

	// Triggers maps an event kind to the filter applied to events
	// of that kind.
	Triggers map[string]Trigger

	// Trigger filters events by branch. An empty branch list matches
	// every branch.
	Trigger struct {
		Branches StringList `yaml:"branches"`
	}

	// Strategy controls how the matrix is scheduled.
	Strategy struct {
		FailFast    *bool  `yaml:"fail-fast"`
		MaxParallel int    `yaml:"max-parallel"`
		Matrix      Matrix `yaml:"matrix"`
	}

	// Matrix is the ordered list of interpreter versions. One job is
	// spawned per value.
	Matrix struct {
		PythonVersion StringList `yaml:"python-version"`
	}

	// Environment describes the execution environment of every job.
	Environment struct {
		Image string            `yaml:"image"`
		Env   map[string]string `yaml:"env"`
	}

	// Install is the install step. Build dependencies are installed
	// before the project itself.
	Install struct {
		BuildDeps StringList `yaml:"build-deps"`
		Editable  *bool      `yaml:"editable"`
		Args      StringList `yaml:"args"`
	}

	// Test is the test step.
	Test struct {
		Command string `yaml:"command"`
	}

	// StringList accepts either a single string or a list of strings.
	StringList []string

	// Duration is a time.Duration written as a Go duration string.
	Duration time.Duration
)

// Parse decodes and validates a workflow file. The name is used when
// the file doesn't set one.
func Parse(name string, contents []byte) (*Workflow, error) {
	var wf Workflow

	err := yaml.UnmarshalStrict(contents, &wf)
	if err != nil {
		return nil, fmt.Errorf("decoding workflow %v: %w", name, err)
	}

	if wf.Name == "" {
		wf.Name = name
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	return &wf, nil
}

// Load reads and parses the workflow file at path.
func Load(path string) (*Workflow, error) {
	logger := logger.WithField("path", path)
	logger.Debug("loading workflow")

	buf, err := ioutil.ReadFile(path)
	if err != nil {
		logger.WithError(err).Debug("unable to read workflow file")
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(name, buf)
}

// FailFastEnabled reports whether one job's failure cancels its
// siblings. It's disabled unless the workflow turns it on.
func (w *Workflow) FailFastEnabled() bool {
	return w.Strategy.FailFast != nil && *w.Strategy.FailFast
}

// Image returns the image reference the given entry runs in.
func (w *Workflow) Image(e Entry) string {
	img := w.Environment.Image
	if img == "" {
		img = DefaultImage
	}

	return img + ":" + e.PythonVersion
}

// InstallCommands returns the install step commands in order: build
// dependencies first, then the project.
func (w *Workflow) InstallCommands() []string {
	deps := w.Install.BuildDeps
	if deps == nil {
		deps = StringList{DefaultBuildDep}
	}

	cmds := []string{}
	if len(deps) > 0 {
		cmds = append(cmds, "pip install "+strings.Join(deps, " "))
	}

	project := []string{"pip", "install"}
	if w.Install.Editable == nil || *w.Install.Editable {
		project = append(project, "-e")
	}
	project = append(project, w.Install.Args...)
	project = append(project, ".")

	return append(cmds, strings.Join(project, " "))
}

// TestCommand returns the test step command.
func (w *Workflow) TestCommand() string {
	if w.Test.Command == "" {
		return DefaultTestCommand
	}

	return w.Test.Command
}

// UnmarshalYAML lets a StringList be written as a scalar.
func (s *StringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = StringList{single}
		return nil
	}

	var list []string
	if err := unmarshal(&list); err != nil {
		return errors.New("expected a string or a list of strings")
	}

	*s = list
	return nil
}

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}
