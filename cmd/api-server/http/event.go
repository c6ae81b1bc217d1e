package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/run-ci/matrix/queue"
	"github.com/run-ci/matrix/workflow"
	"github.com/sirupsen/logrus"
)

func (srv *Server) handleEvent(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	reqSub := req.Context().Value(keyReqSub).(string)
	logger := logger.WithFields(logrus.Fields{
		"request_id":      reqID,
		"request_subject": reqSub,
	})

	logger.Debug("reading request body")
	buf, err := readBody(rw, req)
	if err != nil {
		logger.WithError(err).Error("unable to read request body")

		writeErrResp(rw, err, bodyErrStatus(err))
		return
	}

	logger.Debug("unmarshaling request body")
	var ev workflow.Event
	err = json.Unmarshal(buf, &ev)
	if err != nil {
		logger.WithError(err).Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	err = ev.Validate()
	if err == nil && ev.Remote == "" {
		err = errors.New("event has no remote")
	}
	if err != nil {
		logger.WithError(err).Error("invalid event")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(logrus.Fields{
		"kind":   ev.Kind,
		"branch": ev.TargetBranch(),
		"remote": ev.Remote,
	})

	msg, err := json.Marshal(ev)
	if err != nil {
		logger.WithError(err).Error("unable to marshal event")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	// Runlets pick the event up asynchronously, so the request doesn't
	// wait for the bus to accept it.
	srv.publishing.Add(1)
	go func() {
		defer srv.publishing.Done()

		err := queue.SendWithBackoff(context.Background(), srv.eventch, msg, queue.DefaultBackoff)
		if err != nil {
			logger.WithError(err).Error("unable to publish event")
			return
		}

		logger.Info("event published")
	}()

	writeResp(rw, ev, http.StatusAccepted)
}
