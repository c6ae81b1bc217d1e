package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/run-ci/matrix/runner"
	"github.com/run-ci/matrix/store"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var title = cases.Title(language.English)

// renderRun writes a table with a row per job of the run and a column
// per stage.
func renderRun(w io.Writer, name string, run store.Run, color bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%v #%v (%v %v)", name, run.Count, run.Event.Kind, run.Event.TargetBranch()))

	header := table.Row{"Python", "Status"}
	for _, st := range runner.Stages {
		header = append(header, title.String(string(st)))
	}
	header = append(header, "Duration", "Error")
	t.AppendHeader(header)

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	passed, failed := 0, 0
	for _, j := range run.Jobs {
		row := table.Row{j.PythonVersion, title.String(j.Status)}
		for _, st := range runner.Stages {
			row = append(row, stepCell(j, string(st)))
		}
		row = append(row, formatDuration(j.Start, j.End), j.Message)
		t.AppendRow(row)

		if j.Status == string(runner.StatusSuccess) {
			passed++
		} else {
			failed++
		}
	}

	if color {
		if failed == 0 {
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		} else {
			t.SetStyle(table.StyleColoredBlackOnRedWhite)
		}
	} else {
		t.SetStyle(table.StyleLight)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%v passed, %v failed", passed, failed),
	})

	t.Render()
}

// stepCell summarizes the named step of a job, "-" if it never ran.
func stepCell(j store.Job, name string) string {
	for _, s := range j.Steps {
		if s.Name != name {
			continue
		}

		switch {
		case s.Success == nil:
			return "running"
		case *s.Success:
			return "ok"
		case s.ExitCode != 0:
			return fmt.Sprintf("exit %v", s.ExitCode)
		default:
			return "failed"
		}
	}

	return "-"
}

// runReader reads back a run for rendering.
type runReader interface {
	GetRun(pid, n int) (store.Run, error)
	GetJob(id int) (store.Job, error)
}

// loadRun returns the run with the steps of each of its jobs.
func loadRun(st runReader, pid, n int) (store.Run, error) {
	run, err := st.GetRun(pid, n)
	if err != nil {
		return run, err
	}

	for i, j := range run.Jobs {
		job, err := st.GetJob(j.ID)
		if err != nil {
			return run, err
		}

		run.Jobs[i] = job
	}

	return run, nil
}

func formatDuration(start, end *time.Time) string {
	if start == nil || end == nil {
		return "-"
	}

	return fmt.Sprintf("%.1fs", end.Sub(*start).Seconds())
}
