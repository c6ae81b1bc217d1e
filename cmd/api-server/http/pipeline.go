package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/run-ci/matrix/store"
	"github.com/run-ci/matrix/workflow"
	"github.com/sirupsen/logrus"
)

type createPipelineRequest struct {
	Name       string `json:"name"`
	Remote     string `json:"remote"`
	Definition string `json:"definition"`
}

func (srv *Server) handleCreatePipeline(rw http.ResponseWriter, req *http.Request) {
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
	var body createPipelineRequest
	err = json.Unmarshal(buf, &body)
	if err != nil {
		logger.WithError(err).Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if body.Remote == "" {
		err := errors.New("missing field 'remote' in request body")
		logger.WithError(err).Error("unable to create pipeline")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger.Debug("parsing pipeline definition")
	wf, err := workflow.Parse(body.Name, []byte(body.Definition))
	if err != nil {
		logger.WithError(err).Error("invalid pipeline definition")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	name := body.Name
	if name == "" {
		name = wf.Name
	}

	if name == "" {
		err := errors.New("missing field 'name' in request body")
		logger.WithError(err).Error("unable to create pipeline")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(logrus.Fields{
		"name":   name,
		"remote": body.Remote,
	})

	_, err = srv.st.GetPipelineID(body.Remote, name)
	if err == nil {
		err := store.ErrPipelineExists
		logger.WithError(err).Error("unable to create pipeline")

		writeErrResp(rw, err, http.StatusConflict)
		return
	}
	if err != store.ErrNoPipelines {
		logger.WithError(err).Error("unable to check for existing pipeline")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	p := store.Pipeline{
		Name:       name,
		Remote:     body.Remote,
		Definition: body.Definition,
	}

	logger.Info("saving pipeline")
	err = srv.st.CreatePipeline(&p)
	if err != nil {
		logger.WithError(err).Error("unable to save pipeline")

		// Another request may have created it since the check above.
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrPipelineExists) {
			status = http.StatusConflict
		}

		writeErrResp(rw, err, status)
		return
	}

	writeResp(rw, p, http.StatusCreated)
}

func (srv *Server) handleGetPipelines(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	remote := req.URL.Query().Get("remote")
	logger = logger.WithField("remote", remote)

	logger.Debug("retrieving pipelines from store")

	pipelines, err := srv.st.GetPipelines(remote)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve pipelines")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	writeResp(rw, pipelines, http.StatusOK)
}

func (srv *Server) handleGetPipeline(rw http.ResponseWriter, req *http.Request) {
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

	logger.Debug("retrieving pipeline from store")

	p, err := srv.st.GetPipeline(id)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve pipeline")

		writeErrResp(rw, err, storeErrStatus(err))
		return
	}

	writeResp(rw, p, http.StatusOK)
}
