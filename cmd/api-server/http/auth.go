package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/run-ci/matrix/store"
)

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (srv *Server) handleAuth(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	buf, err := readBody(rw, req)
	if err != nil {
		logger.WithError(err).Error("unable to read request body")

		writeErrResp(rw, err, bodyErrStatus(err))
		return
	}

	var auth authRequest
	err = json.Unmarshal(buf, &auth)
	if err != nil {
		logger.WithError(err).Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if auth.Email == "" || auth.Password == "" {
		err := errors.New("missing fields in auth request body")
		logger.WithError(err).Error("unable to authenticate")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("email", auth.Email)

	err = srv.st.Authenticate(auth.Email, auth.Password)
	if err != nil {
		logger.WithError(err).Error("unable to authenticate")

		status := http.StatusInternalServerError
		if err == store.ErrNotAuthenticated {
			status = http.StatusUnauthorized
		}

		writeErrResp(rw, err, status)
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.StandardClaims{
		Subject:   auth.Email,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(tokenTTL).Unix(),
	})

	signed, err := token.SignedString(srv.jwtsecret)
	if err != nil {
		logger.WithError(err).Error("unable to sign token")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger.Debug("issued token")

	writeResp(rw, map[string]string{
		"token": signed,
	}, http.StatusOK)
}
