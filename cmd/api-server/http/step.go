package http

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

func (srv *Server) handleGetStep(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithFields(logrus.Fields{
		"request_id": reqID,
	})

	logger.Debug("parsing id")

	id, err := intVar(req, "id")
	if err != nil {
		logger.WithError(err).Error("unable to parse id as integer")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("id", id)

	logger.Debug("retrieving step from store")

	step, err := srv.st.GetStep(id)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve step")

		writeErrResp(rw, err, storeErrStatus(err))
		return
	}

	writeResp(rw, step, http.StatusOK)
}
