package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/run-ci/matrix/runner"
	"github.com/run-ci/matrix/runner/docker"
	"github.com/run-ci/matrix/store"
	"github.com/run-ci/matrix/workflow"
	"github.com/urfave/cli/v2"
)

var execCommand = &cli.Command{
	Name:  "exec",
	Usage: "run a workflow file once and print the results",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "workflow",
			Aliases: []string{"f"},
			Usage:   "workflow file to run",
			Value:   "matrix.yml",
			EnvVars: []string{"RUNLET_WORKFLOW"},
		},
		&cli.StringFlag{
			Name:    "source",
			Usage:   "local project directory, ignored when --remote is set",
			Value:   ".",
			EnvVars: []string{"RUNLET_SOURCE"},
		},
		&cli.StringFlag{
			Name:    "remote",
			Usage:   "git remote to clone instead of using a local directory",
			EnvVars: []string{"RUNLET_REMOTE"},
		},
		&cli.StringFlag{
			Name:  "event",
			Usage: "event kind, push or pull_request",
			Value: workflow.EventPush,
		},
		&cli.StringFlag{
			Name:  "branch",
			Usage: "pushed branch, or target branch of the pull request",
			Value: "master",
		},
		&cli.StringFlag{
			Name:  "commit",
			Usage: "commit to check out",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "print the results table without colors",
		},
	},
	Action: execWorkflow,
}

func execWorkflow(c *cli.Context) error {
	wf, err := workflow.Load(c.String("workflow"))
	if err != nil {
		return runtimeErr("loading workflow", err)
	}

	ev := workflow.Event{
		Kind:   c.String("event"),
		Branch: c.String("branch"),
		Commit: c.String("commit"),
		Remote: c.String("remote"),
	}

	if err := ev.Validate(); err != nil {
		return runtimeErr("invalid event", err)
	}

	if !wf.Match(ev) {
		return runtimeErr(wf.Name, runner.ErrNotTriggered)
	}

	prov, err := docker.NewProvisioner()
	if err != nil {
		return runtimeErr("creating docker client", err)
	}

	origin := ev.Remote
	if origin == "" {
		src, err := filepath.Abs(c.String("source"))
		if err != nil {
			return runtimeErr("resolving source directory", err)
		}

		prov.Source = src
		origin = src
	}

	st := store.NewMemory()
	p := &store.Pipeline{Name: wf.Name, Remote: origin}
	if err := st.CreatePipeline(p); err != nil {
		return runtimeErr("saving pipeline", err)
	}

	rec, err := newRecorder(st, p, ev, wf.Entries())
	if err != nil {
		return runtimeErr("saving run", err)
	}

	res, err := runner.New(prov, rec).Run(c.Context, wf, ev)
	if err != nil {
		return runtimeErr("running workflow", err)
	}

	if err := rec.finish(res); err != nil {
		return runtimeErr("saving run", err)
	}

	run, err := loadRun(st, p.ID, rec.run.Count)
	if err != nil {
		return runtimeErr("reading run", err)
	}

	renderRun(os.Stdout, wf.Name, run, !c.Bool("no-color"))

	if !res.Success() {
		return cli.Exit(fmt.Sprintf("%v failed", wf.Name), exitJobFailure)
	}

	return nil
}
