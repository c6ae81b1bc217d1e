package http

import (
	"net/http"
)

func (srv *Server) handleGetJob(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("parsing id")

	id, err := intVar(req, "id")
	if err != nil {
		logger.WithError(err).Error("unable to parse id as integer")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("id", id)

	logger.Debug("retrieving job from store")

	job, err := srv.st.GetJob(id)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve job")

		writeErrResp(rw, err, storeErrStatus(err))
		return
	}

	writeResp(rw, job, http.StatusOK)
}
