package main

import (
	"context"
	"errors"
	"fmt"
	gohttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/run-ci/matrix/cmd/api-server/http"
	"github.com/run-ci/matrix/queue"
	"github.com/run-ci/matrix/store"

	nats "github.com/nats-io/go-nats"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

// shutdownTimeout bounds how long in-flight requests get to finish.
const shutdownTimeout = 10 * time.Second

type config struct {
	pgconnstr string
	natsURL   string
	jwtsecret string
	addr      string
}

func init() {
	lvl, err := logrus.ParseLevel(os.Getenv("RELAY_LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	logrus.SetLevel(lvl)

	logger = logrus.WithField("package", "main")
}

// loadConfig reads the server's configuration from RELAY_* environment
// variables.
func loadConfig() (config, error) {
	var cfg config

	pg := map[string]string{}
	for _, key := range []string{"USER", "PASS", "HREF", "DB"} {
		v := os.Getenv("RELAY_POSTGRES_" + key)
		if v == "" {
			return cfg, fmt.Errorf("need RELAY_POSTGRES_%v", key)
		}
		pg[key] = v
	}

	pgssl := os.Getenv("RELAY_POSTGRES_SSL")
	if pgssl == "" {
		logger.Info("RELAY_POSTGRES_SSL not set - defaulting to verify-full")
		pgssl = "verify-full"
	}

	cfg.pgconnstr = fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=%v",
		pg["USER"], pg["PASS"], pg["HREF"], pg["DB"], pgssl)

	cfg.natsURL = os.Getenv("RELAY_NATS_URL")
	if cfg.natsURL == "" {
		logger.Warnf("setting NATS url to %v", nats.DefaultURL)
		cfg.natsURL = nats.DefaultURL
	}

	cfg.jwtsecret = os.Getenv("RELAY_JWT_SECRET")
	if cfg.jwtsecret == "" {
		logger.Warn("RELAY_JWT_SECRET not set - defaulting to \"\" (HIGHLY INSECURE!)")
	}

	cfg.addr = os.Getenv("RELAY_LISTEN_ADDR")
	if cfg.addr == "" {
		cfg.addr = ":9001"
	}

	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		logger.WithError(err).Fatal("shutting down server")
	}

	logger.Info("server stopped")
}

// run serves the API until ctx is done. The bus is closed only after
// every accepted event has been published.
func run(ctx context.Context, cfg config) error {
	logger.Info("connecting to database")
	st, err := store.NewPostgres(cfg.pgconnstr)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	logger.Info("setting up NATS connection")
	bus, err := queue.NewNATS(cfg.natsURL)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer bus.Close()

	srv := http.NewServer(cfg.addr, bus.SenderOn(queue.SubjectEvents), st, cfg.jwtsecret)

	errch := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.addr).Info("listening")
		errch <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case serveErr = <-errch:
	case <-ctx.Done():
		logger.Info("shutting down, waiting for requests and events")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	if serveErr == nil {
		serveErr = <-errch
	}
	if !errors.Is(serveErr, gohttp.ErrServerClosed) {
		return serveErr
	}

	return nil
}
