package main

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/run-ci/matrix/metrics"
	"github.com/run-ci/matrix/queue"
	"github.com/run-ci/matrix/runner"
	"github.com/run-ci/matrix/runner/docker"
	"github.com/run-ci/matrix/store"
	"github.com/run-ci/matrix/workflow"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the pipelines triggered by events from the bus",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "postgres-url",
			Usage:    "postgres connection string",
			EnvVars:  []string{"RUNLET_POSTGRES_URL"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server to receive events from",
			Value:   "nats://localhost:4222",
			EnvVars: []string{"RUNLET_NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "address to serve prometheus metrics on",
			Value:   ":9102",
			EnvVars: []string{"RUNLET_METRICS_ADDR"},
		},
	},
	Action: serve,
}

// dispatchStore is what the dispatcher needs from the store.
type dispatchStore interface {
	GetPipelines(remote string) ([]store.Pipeline, error)

	recordStore
}

// dispatcher runs the pipelines triggered by an event.
type dispatcher struct {
	st        dispatchStore
	prov      runner.Provisioner
	reporters runner.Reporters
	statuses  chan<- []byte
	backoff   queue.Backoff
}

func serve(c *cli.Context) error {
	st, err := store.NewPostgres(c.String("postgres-url"))
	if err != nil {
		return runtimeErr("connecting to postgres", err)
	}
	defer st.Close()

	bus, err := queue.NewNATS(c.String("nats-url"))
	if err != nil {
		return runtimeErr("connecting to NATS", err)
	}
	defer bus.Close()

	prov, err := docker.NewProvisioner()
	if err != nil {
		return runtimeErr("creating docker client", err)
	}

	if err := prov.Ping(); err != nil {
		return runtimeErr("pinging docker daemon", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	go func() {
		addr := c.String("metrics-addr")
		logger.WithField("addr", addr).Info("serving metrics")

		err := http.ListenAndServe(addr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err != nil {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	events, err := bus.ReceiverOn(queue.SubjectEvents)
	if err != nil {
		return runtimeErr("subscribing to events", err)
	}

	d := &dispatcher{
		st:        st,
		prov:      prov,
		reporters: runner.Reporters{metrics.New(reg)},
		statuses:  bus.SenderOn(queue.SubjectStatuses),
		backoff:   queue.DefaultBackoff,
	}

	logger.Info("waiting for events")

	ctx := c.Context
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return nil
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				d.handle(ctx, msg)
			}()
		case <-ctx.Done():
			logger.Info("shutting down, waiting for running pipelines")
			return nil
		}
	}
}

// handle runs every pipeline on the event's remote whose triggers
// match it. Pipelines run concurrently and independently.
func (d *dispatcher) handle(ctx context.Context, msg []byte) {
	ev, err := decodeEvent(msg)
	if err != nil {
		logger.WithError(err).Warn("dropping invalid event")
		return
	}

	logger := logger.WithFields(log.Fields{
		"kind":   ev.Kind,
		"branch": ev.TargetBranch(),
		"remote": ev.Remote,
	})

	pipelines, err := d.st.GetPipelines(ev.Remote)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve pipelines")
		return
	}

	var wg sync.WaitGroup
	for i := range pipelines {
		p := &pipelines[i]

		wf, err := workflow.Parse(p.Name, []byte(p.Definition))
		if err != nil {
			logger.WithError(err).WithField("pipeline", p.Name).
				Error("skipping pipeline with invalid definition")
			continue
		}

		if !wf.Match(ev) {
			logger.WithField("pipeline", p.Name).Debug("pipeline not triggered")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := d.run(ctx, p, wf, ev); err != nil {
				logger.WithError(err).WithField("pipeline", p.Name).
					Error("unable to run pipeline")
			}
		}()
	}

	wg.Wait()
}

// run records and runs one triggered pipeline. When the run can't be
// recorded the matrix still runs, it's only missing from the store.
func (d *dispatcher) run(ctx context.Context, p *store.Pipeline, wf *workflow.Workflow, ev workflow.Event) error {
	logger := logger.WithField("pipeline", p.Name)

	run := &store.Run{PipelineID: p.ID, Event: ev}

	var reporters runner.Reporters
	rec, err := newRecorder(d.st, p, ev, wf.Entries())
	if err != nil {
		logger.WithError(err).Error("unable to record run, running it unrecorded")
	} else {
		run = rec.run
		reporters = append(reporters, rec)
	}

	reporters = append(reporters, d.reporters...)
	if d.statuses != nil {
		reporters = append(reporters, &busReporter{
			ch:       d.statuses,
			backoff:  d.backoff,
			pipeline: p,
			run:      run,
		})
	}

	res, err := runner.New(d.prov, reporters).Run(ctx, wf, ev)
	if errors.Is(err, runner.ErrNotTriggered) {
		return nil
	}
	if err != nil {
		return err
	}

	logger.WithFields(log.Fields{
		"run":     run.Count,
		"success": res.Success(),
	}).Info("pipeline run finished")

	if rec == nil {
		return nil
	}

	return rec.finish(res)
}
