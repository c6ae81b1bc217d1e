package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/run-ci/matrix/store"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

type ctxkey int

const (
	keyReqID ctxkey = iota
	keyReqSub
)

// tokenTTL is how long tokens issued by /auth are valid for.
const tokenTTL = 24 * time.Hour

// maxBodyBytes caps the size of request bodies.
const maxBodyBytes = 1 << 20

func init() {
	logger = logrus.WithField("package", "http")
}

// apiStore is a grouping of the minimum number of store
// interfaces the API needs to work.
type apiStore interface {
	CreatePipeline(*store.Pipeline) error
	GetPipeline(id int) (store.Pipeline, error)
	GetPipelines(remote string) ([]store.Pipeline, error)
	GetPipelineID(remote, name string) (int, error)

	GetRun(pid, n int) (store.Run, error)
	GetJob(id int) (store.Job, error)
	GetStep(id int) (store.Step, error)

	Authenticate(email, pass string) error
}

// Server is a net/http.Server with dependencies like
// the database connection.
type Server struct {
	st        apiStore
	eventch   chan<- []byte
	jwtsecret []byte

	// publishing tracks events still being sent on eventch.
	publishing sync.WaitGroup

	*http.Server
}

// NewServer returns a Server with a reference to `st`, listening
// on `addr`. Accepted events are sent on `eventch`.
func NewServer(addr string, eventch chan<- []byte, st apiStore, jwtsecret string) *Server {
	srv := &Server{
		Server: &http.Server{
			Addr: addr,
		},

		st:        st,
		eventch:   eventch,
		jwtsecret: []byte(jwtsecret),
	}

	r := mux.NewRouter()
	srv.Handler = r

	r.Handle("/", chain(getRoot, setRequestID, logRequest)).
		Methods(http.MethodGet)

	r.Handle("/auth", chain(srv.handleAuth, setRequestID, logRequest)).
		Methods(http.MethodPost)

	r.Handle("/pipelines", chain(
		srv.handleCreatePipeline,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodPost)

	r.Handle("/pipelines", chain(
		srv.handleGetPipelines,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/pipelines/{id}", chain(
		srv.handleGetPipeline,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/pipelines/{pid}/runs/{count}", chain(
		srv.handleGetRun,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/jobs/{id}", chain(
		srv.handleGetJob,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/steps/{id}", chain(
		srv.handleGetStep,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/events", chain(
		srv.handleEvent,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodPost)

	return srv
}

// Middleware is a function that can intercept the handling of an HTTP request
// to do something useful.
type middleware func(http.HandlerFunc) http.HandlerFunc

// Chain builds the final http.Handler from all the middlewares passed to it.
func chain(f http.HandlerFunc, mw ...middleware) http.Handler {
	// Because function calls are placed on a stack, they need to
	// be applied in reverse order from what they are passed in,
	// in order for calls to Chain() to be intuitive.
	for i := len(mw) - 1; i >= 0; i-- {
		f = mw[i](f)
	}

	return f
}

// SetRequestID sets a UUID on the request so that it can be tracked through
// logs, metrics and instrumentation.
func setRequestID(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		id := uuid.New().String()

		ctx := context.WithValue(req.Context(), keyReqID, id)
		logger.WithField("request_id", id).
			Debug("setting request ID")

		f(rw, req.WithContext(ctx))
	}
}

// LogRequest logs useful information about the request. It must have a
// "request_id" set on the request context.
func logRequest(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		reqid := req.Context().Value(keyReqID).(string)

		logger := logger.WithField("request_id", reqid)

		logger.Infof("%v %v", req.Method, req.URL)

		f(rw, req)
	}
}

func (srv *Server) checkAuth(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		hdr := strings.Fields(req.Header.Get("Authorization"))

		// Tokens come in the form of "Bearer $TOKEN"
		if len(hdr) < 2 || hdr[0] != "Bearer" {
			err := errors.New("missing bearer token")

			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		keyfn := func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				err := errors.New("invalid signing method for bearer token")

				return nil, err
			}

			return srv.jwtsecret, nil
		}

		token, err := jwt.ParseWithClaims(hdr[1], &jwt.StandardClaims{}, keyfn)
		if err != nil {
			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		if claims, ok := token.Claims.(*jwt.StandardClaims); ok && token.Valid {
			ctx := context.WithValue(req.Context(), keyReqSub, claims.Subject)
			logger.WithField("sub", claims.Subject).
				Debug("setting auth subject")

			f(rw, req.WithContext(ctx))
			return
		}

		err = errors.New("invalid bearer token")
		logger.WithError(err).Error("unable to authorize request")
		writeErrResp(rw, err, http.StatusUnauthorized)
	}
}

func getRoot(rw http.ResponseWriter, req *http.Request) {
	writeResp(rw, map[string]string{"status": "ok"}, http.StatusOK)
}

// Shutdown gracefully shuts down the HTTP server and then waits for
// accepted events to be published. Once it returns nothing is sent on
// the event channel anymore.
func (srv *Server) Shutdown(ctx context.Context) error {
	err := srv.Server.Shutdown(ctx)
	srv.publishing.Wait()

	return err
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(rw http.ResponseWriter, req *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(rw, req.Body, maxBodyBytes))
}

// bodyErrStatus is the status code for a failure to read the request
// body.
func bodyErrStatus(err error) int {
	var maxerr *http.MaxBytesError
	if errors.As(err, &maxerr) {
		return http.StatusRequestEntityTooLarge
	}

	return http.StatusInternalServerError
}

// writeErrResp writes err as a JSON body of the form {"error": "..."}.
func writeErrResp(rw http.ResponseWriter, err error, status int) {
	buf, merr := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	if merr != nil {
		logger.WithError(merr).Error("unable to marshal error response")
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(buf)
}

// writeResp marshals body and writes it with the given status.
func writeResp(rw http.ResponseWriter, body interface{}, status int) {
	buf, err := json.Marshal(body)
	if err != nil {
		logger.WithError(err).Error("unable to marshal response body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(buf)
}

// storeErrStatus maps the store's not-found errors to 404.
func storeErrStatus(err error) int {
	switch err {
	case store.ErrPipelineNotFound, store.ErrNoPipelines,
		store.ErrRunNotFound, store.ErrJobNotFound, store.ErrStepNotFound:
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}

// intVar parses the mux path variable name as an integer.
func intVar(req *http.Request, name string) (int, error) {
	raw, ok := mux.Vars(req)[name]
	if !ok || raw == "" {
		return 0, errors.New("missing parameter '" + name + "' from request")
	}

	return strconv.Atoi(raw)
}
