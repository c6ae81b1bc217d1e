package store

import (
	"database/sql"
	_ "embed" // schema.sql
	"errors"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

//go:embed schema.sql
var schema string

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// Postgres is a PostgreSQL database that's also a RelayStore.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a RelayStore backed by PostgreSQL. It connects to
// the database using connstr.
func NewPostgres(connstr string) (*Postgres, error) {
	logger := logger.WithField("store", "postgres")

	logger.Debug("connecting to database")

	db, err := sql.Open("postgres", connstr)
	if err != nil {
		logger.WithField("error", err).Debug("unable to connect to database")
		return nil, err
	}

	return &Postgres{
		db: db,
	}, nil
}

// Migrate creates the tables the store needs if they don't exist yet.
func (st *Postgres) Migrate() error {
	logger.Debug("migrating postgres schema")

	_, err := st.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (st *Postgres) Close() error {
	return st.db.Close()
}

// CreatePipeline saves a Pipeline to Postgres and sets its ID. If the
// remote already has a pipeline with the same name it returns
// ErrPipelineExists.
func (st *Postgres) CreatePipeline(p *Pipeline) error {
	logger := logger.WithFields(log.Fields{
		"name":   p.Name,
		"remote": p.Remote,

		"query": "create_pipeline",
	})

	sqlinsert := `
	INSERT INTO pipelines (name, remote, definition)
	VALUES ($1, $2, $3)
	RETURNING id;
	`

	logger.Debug("saving pipeline")

	// Using QueryRow because the insert is returning "id".
	err := st.db.QueryRow(sqlinsert, p.Name, p.Remote, p.Definition).Scan(&p.ID)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert pipeline")

		var pqerr *pq.Error
		if errors.As(err, &pqerr) && pqerr.Code == pgUniqueViolation {
			return ErrPipelineExists
		}
		return err
	}

	logger.Debug("pipeline saved")

	return nil
}

// GetPipeline retrieves the Pipeline with the given id from postgres,
// along with its runs.
func (st *Postgres) GetPipeline(id int) (Pipeline, error) {
	logger := logger.WithField("id", id)
	logger.Debug("getting pipeline from postgres")

	sqlq := `
	SELECT name, remote, definition, success
	FROM pipelines
	WHERE id = $1;
	`

	p := Pipeline{ID: id}
	err := st.db.QueryRow(sqlq, id).Scan(&p.Name, &p.Remote, &p.Definition, &p.Success)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return p, ErrPipelineNotFound
		}
		return p, err
	}

	sqlq = `
	SELECT count, start_time, end_time, success,
		event_kind, branch, ref, commit_sha, remote
	FROM runs
	WHERE pipeline_id = $1
	ORDER BY count;
	`

	rows, err := st.db.Query(sqlq, id)
	if err != nil {
		logger.WithError(err).Debug("unable to query runs")
		return p, err
	}
	defer rows.Close()

	for rows.Next() {
		r := Run{PipelineID: id}

		err := rows.Scan(&r.Count, &r.Start, &r.End, &r.Success,
			&r.Event.Kind, &r.Event.Branch, &r.Event.Ref, &r.Event.Commit, &r.Event.Remote)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return p, err
		}

		p.Runs = append(p.Runs, r)
	}

	return p, rows.Err()
}

// GetPipelines implements the RelayStore interface. It returns every
// pipeline on the given remote, or all of them if remote is empty.
func (st *Postgres) GetPipelines(remote string) ([]Pipeline, error) {
	sqlq := `
	SELECT id, name, remote, definition, success
	FROM pipelines
	WHERE $1 = '' OR remote = $1
	ORDER BY id;
	`

	logger := logger.WithFields(log.Fields{
		"remote": remote,
		"query":  "get_pipelines",
	})

	rows, err := st.db.Query(sqlq, remote)
	if err != nil {
		logger.WithError(err).Debug("unable to query postgres for pipelines")
		return nil, err
	}
	defer rows.Close()

	ps := []Pipeline{}
	for rows.Next() {
		var p Pipeline

		err := rows.Scan(&p.ID, &p.Name, &p.Remote, &p.Definition, &p.Success)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")

			return ps, err
		}

		ps = append(ps, p)
	}

	return ps, rows.Err()
}

// GetPipelineID queries Postgres for the ID of the pipeline matching the
// filters. If no pipelines are found it returns ErrNoPipelines.
func (st *Postgres) GetPipelineID(remote, name string) (id int, err error) {
	logger := logger.WithFields(log.Fields{
		"remote": remote,
		"name":   name,
		"query":  "get_pipeline_id",
	})

	sqlq := `
	SELECT id
	FROM pipelines
	WHERE remote = $1
		AND name = $2;
	`

	logger.Debug("retrieving id from postgres")

	err = st.db.QueryRow(sqlq, remote, name).Scan(&id)
	if err == sql.ErrNoRows {
		err = ErrNoPipelines
	}

	return
}

// UpdatePipeline is part of the RelayStore interface. It updates the
// pipeline's definition and last success status.
func (st *Postgres) UpdatePipeline(p *Pipeline) error {
	sqlupdate := `
	UPDATE pipelines
	SET success = $1, definition = $2
	WHERE pipelines.id = $3
	`

	logger := logger.WithFields(log.Fields{
		"id":      p.ID,
		"success": p.Success,
		"query":   "update_pipeline",
	})

	logger.Debug("updating pipeline")

	res, err := st.db.Exec(sqlupdate, p.Success, p.Definition, p.ID)
	if err != nil {
		logger.WithError(err).Debug("unable to update pipeline")
		return err
	}

	return expectOne(res, ErrPipelineNotFound)
}

// CreateRun is part of the RelayStore interface. It creates a new pipeline
// run in the database and sets the count.
//
// The count comes from the pipeline's run counter. Bumping it locks the
// pipeline row until the run is inserted, so concurrent runs of one
// pipeline get consecutive counts.
func (st *Postgres) CreateRun(r *Run) error {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": r.PipelineID,
	})

	sqlcount := `
	UPDATE pipelines
	SET run_count = run_count + 1
	WHERE id = $1
	RETURNING run_count
	`

	sqlinsert := `
	INSERT INTO runs (count, start_time, end_time, success, pipeline_id,
		event_kind, branch, ref, commit_sha, remote)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	logger.Debug("saving pipeline run")

	tx, err := st.db.Begin()
	if err != nil {
		logger.WithError(err).Debug("unable to begin transaction")
		return err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow(sqlcount, r.PipelineID).Scan(&count)
	if err != nil {
		logger.WithError(err).Debug("unable to bump run count")
		if err == sql.ErrNoRows {
			return ErrPipelineNotFound
		}
		return err
	}

	ev := r.Event
	_, err = tx.Exec(
		sqlinsert, count, r.Start, r.End, r.Success, r.PipelineID,
		ev.Kind, ev.Branch, ev.Ref, ev.Commit, ev.Remote)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert pipeline run")
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.WithError(err).Debug("unable to commit pipeline run")
		return err
	}

	r.Count = count
	logger.WithField("count", count).Debug("pipeline run saved")

	return nil
}

// GetRun returns the nth run of the pipeline with the given ID and its
// jobs. If the run isn't found it returns ErrRunNotFound.
func (st *Postgres) GetRun(pid, n int) (Run, error) {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": pid,
		"count":       n,
	})
	logger.Debug("getting run from postgres")

	sqlq := `
	SELECT start_time, end_time, success,
		event_kind, branch, ref, commit_sha, remote
	FROM runs
	WHERE pipeline_id = $1 AND count = $2
	`

	r := Run{
		PipelineID: pid,
		Count:      n,
	}
	err := st.db.QueryRow(sqlq, pid, n).Scan(&r.Start, &r.End, &r.Success,
		&r.Event.Kind, &r.Event.Branch, &r.Event.Ref, &r.Event.Commit, &r.Event.Remote)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return r, ErrRunNotFound
		}
		return r, err
	}

	sqlq = `
	SELECT id, python_version, status, error, message, start_time, end_time
	FROM jobs
	WHERE pipeline_id = $1 AND run_count = $2
	ORDER BY id
	`

	rows, err := st.db.Query(sqlq, pid, n)
	if err != nil {
		logger.WithError(err).Debug("unable to query jobs")
		return r, err
	}
	defer rows.Close()

	for rows.Next() {
		j := Job{
			PipelineID: pid,
			RunCount:   n,
		}

		err := rows.Scan(&j.ID, &j.PythonVersion, &j.Status, &j.Error, &j.Message, &j.Start, &j.End)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return r, err
		}

		r.Jobs = append(r.Jobs, j)
	}

	return r, rows.Err()
}

// UpdateRun implements part of RelayStore. It updates a run's success
// status and end time.
func (st *Postgres) UpdateRun(r *Run) error {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": r.PipelineID,
		"count":       r.Count,
		"end":         r.End,
		"success":     r.Success,
	})

	sqlupdate := `
	UPDATE runs
	SET success = $1, end_time = $2
	WHERE runs.pipeline_id = $3 AND runs.count = $4
	`

	logger.Debug("saving run")

	res, err := st.db.Exec(sqlupdate, r.Success, r.End, r.PipelineID, r.Count)
	if err != nil {
		logger.WithError(err).Debug("unable to update run")
		return err
	}

	logger.Debug("run saved")

	return expectOne(res, ErrRunNotFound)
}

// CreateJob is part of the RelayStore interface. It creates a new run job
// in the database and sets the ID.
func (st *Postgres) CreateJob(j *Job) error {
	logger := logger.WithFields(log.Fields{
		"pipeline_id":    j.PipelineID,
		"run_count":      j.RunCount,
		"python_version": j.PythonVersion,
	})

	sqlinsert := `
	INSERT INTO jobs (pipeline_id, run_count, python_version, status, start_time, end_time)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id
	`

	logger.Debug("saving run job")

	// Using QueryRow because the insert is returning "id".
	err := st.db.QueryRow(
		sqlinsert, j.PipelineID, j.RunCount, j.PythonVersion, j.Status, j.Start, j.End).
		Scan(&j.ID)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert run job")
		return err
	}

	logger.Debug("run job saved")

	return nil
}

// GetJob returns the Job with the given ID and its steps. If the Job
// isn't found it returns ErrJobNotFound.
func (st *Postgres) GetJob(id int) (Job, error) {
	logger := logger.WithField("id", id)
	logger.Debug("getting job from postgres")

	sqlq := `
	SELECT pipeline_id, run_count, python_version, status, error, message,
		start_time, end_time
	FROM jobs
	WHERE id = $1
	`

	j := Job{ID: id}
	err := st.db.QueryRow(sqlq, id).Scan(&j.PipelineID, &j.RunCount, &j.PythonVersion,
		&j.Status, &j.Error, &j.Message, &j.Start, &j.End)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return j, ErrJobNotFound
		}
		return j, err
	}

	sqlq = `
	SELECT id, name, start_time, end_time, success, exit_code
	FROM steps
	WHERE job_id = $1
	ORDER BY id
	`

	rows, err := st.db.Query(sqlq, id)
	if err != nil {
		logger.WithError(err).Debug("unable to query steps")
		return j, err
	}
	defer rows.Close()

	for rows.Next() {
		s := Step{JobID: id}

		err := rows.Scan(&s.ID, &s.Name, &s.Start, &s.End, &s.Success, &s.ExitCode)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return j, err
		}

		j.Steps = append(j.Steps, s)
	}

	return j, rows.Err()
}

// UpdateJob is part of the RelayStore interface. It updates the job's
// status, failure and end time with what's passed in.
func (st *Postgres) UpdateJob(j *Job) error {
	logger := logger.WithFields(log.Fields{
		"id":     j.ID,
		"status": j.Status,
		"error":  j.Error,
		"end":    j.End,
	})

	sqlupdate := `
	UPDATE jobs
	SET status = $1, error = $2, message = $3, start_time = $4, end_time = $5
	WHERE jobs.id = $6
	`

	logger.Debug("saving run job")

	res, err := st.db.Exec(sqlupdate, j.Status, j.Error, j.Message, j.Start, j.End, j.ID)
	if err != nil {
		logger.WithError(err).Debug("unable to update job")
		return err
	}

	logger.Debug("run job saved")

	return expectOne(res, ErrJobNotFound)
}

// CreateStep is part of the RelayStore interface. It creates a new job
// step in the database and sets the ID.
func (st *Postgres) CreateStep(s *Step) error {
	logger := logger.WithFields(log.Fields{
		"job_id": s.JobID,
		"name":   s.Name,
	})

	sqlinsert := `
	INSERT INTO steps (name, start_time, end_time, success, exit_code, job_id)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id
	`

	logger.Debug("saving job step")

	// Using QueryRow because the insert is returning "id".
	err := st.db.QueryRow(
		sqlinsert, s.Name, s.Start, s.End, s.Success, s.ExitCode, s.JobID).
		Scan(&s.ID)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert job step")
		return err
	}

	logger.Debug("job step saved")

	return nil
}

// GetStep returns the Step with the given ID. If the Step isn't found
// it returns ErrStepNotFound.
func (st *Postgres) GetStep(id int) (Step, error) {
	logger := logger.WithField("id", id)
	logger.Debug("getting step from postgres")

	sqlq := `
	SELECT name, start_time, end_time, success, exit_code, job_id
	FROM steps
	WHERE steps.id = $1
	`

	s := Step{ID: id}
	err := st.db.QueryRow(sqlq, id).Scan(&s.Name, &s.Start, &s.End, &s.Success, &s.ExitCode, &s.JobID)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return s, ErrStepNotFound
		}
	}

	return s, err
}

// UpdateStep is part of the RelayStore interface. It updates a step's
// success status, exit code and end time with what's passed in.
func (st *Postgres) UpdateStep(s *Step) error {
	logger := logger.WithFields(log.Fields{
		"job_id":  s.JobID,
		"name":    s.Name,
		"id":      s.ID,
		"success": s.Success,
		"end":     s.End,
	})

	sqlupdate := `
	UPDATE steps
	SET success = $1, exit_code = $2, end_time = $3
	WHERE steps.id = $4
	`

	logger.Debug("saving job step")

	res, err := st.db.Exec(sqlupdate, s.Success, s.ExitCode, s.End, s.ID)
	if err != nil {
		logger.WithError(err).Debug("unable to update step")
		return err
	}

	logger.Debug("job step saved")

	return expectOne(res, ErrStepNotFound)
}

// CreateUser creates the passed in user in the database.
func (st *Postgres) CreateUser(u *User) error {
	logger := logger.WithField("email", u.Email)
	logger.Debug("saving user")

	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.WithError(err).Debug("unable to encrypt password")
		return err
	}

	sqlq := `
	INSERT INTO users (email, name, password)
	VALUES
		($1, $2, $3)
	`

	_, err = st.db.Exec(sqlq, u.Email, u.Name, password)

	var pqerr *pq.Error
	if errors.As(err, &pqerr) && pqerr.Code == pgUniqueViolation {
		return ErrUserExists
	}

	return err
}

// Authenticate checks the password for the user with the given email address.
func (st *Postgres) Authenticate(email, pass string) error {
	logger := logger.WithField("email", email)
	logger.Debug("authenticating user")

	sqlq := `
	SELECT password
	FROM users
	WHERE users.email = $1
	`

	cryptpass := []byte{}
	err := st.db.QueryRow(sqlq, email).Scan(&cryptpass)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return ErrNotAuthenticated
		}
		return err
	}

	err = bcrypt.CompareHashAndPassword(cryptpass, []byte(pass))
	if err != nil {
		logger.WithError(err).Debug("unable to authenticate")
		return ErrNotAuthenticated
	}

	return nil
}

// expectOne returns notFound unless the statement touched a row.
func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return notFound
	}

	return nil
}
