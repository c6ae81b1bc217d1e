// Command runlet executes build-and-test matrices on docker, either for
// events coming off the bus or once for a local workflow file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var logger *logrus.Entry

// Exit codes of the runlet.
const (
	exitSuccess    = 0 // every job passed
	exitJobFailure = 1 // some job failed
	exitRuntimeErr = 2 // invalid config or runtime errors
)

func init() {
	logger = logrus.WithField("package", "main")
}

// runtimeErr exits with exitRuntimeErr.
func runtimeErr(msg string, err error) error {
	return cli.Exit(fmt.Sprintf("%v: %v", msg, err), exitRuntimeErr)
}

func main() {
	app := &cli.App{
		Name:  "runlet",
		Usage: "run build-and-test matrices on docker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "logrus level",
				Value:   "info",
				EnvVars: []string{"RUNLET_LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			lvl, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return runtimeErr("parsing log level", err)
			}

			logrus.SetLevel(lvl)
			return nil
		},
		Commands: []*cli.Command{
			serveCommand,
			execCommand,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Exit codes from commands are handled by the app itself, anything
	// left is a usage or runtime error.
	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.WithError(err).Error("runlet failed")
		stop()
		os.Exit(exitRuntimeErr)
	}

	os.Exit(exitSuccess)
}
