package http

import (
	"net/http"
)

func (srv *Server) handleGetRun(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("parsing pipeline id")

	pid, err := intVar(req, "pid")
	if err != nil {
		logger.WithError(err).Error("unable to parse pid as integer")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("pid", pid)
	logger.Debug("parsing count")

	count, err := intVar(req, "count")
	if err != nil {
		logger.WithError(err).Error("unable to parse count as integer")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("count", count)

	logger.Debug("retrieving run from store")

	run, err := srv.st.GetRun(pid, count)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve run")

		writeErrResp(rw, err, storeErrStatus(err))
		return
	}

	writeResp(rw, run, http.StatusOK)
}
