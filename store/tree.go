package store

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Memory is a RelayStore kept in process memory. Pipelines own their
// runs, runs own their jobs and jobs own their steps, with indexes on
// the side for lookups by ID.
type Memory struct {
	mu sync.RWMutex

	root  rootnode
	jobs  map[int]*jobnode
	steps map[int]*stepnode
	users map[string]User

	nextPipeline int
	nextJob      int
	nextStep     int
}

type rootnode struct {
	children map[int]*pipelinenode
}

type pipelinenode struct {
	children map[int]*runnode
	data     Pipeline
}

type runnode struct {
	children []*jobnode
	data     Run
}

type jobnode struct {
	children []*stepnode
	data     Job
}

type stepnode struct {
	data Step
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root:  rootnode{children: map[int]*pipelinenode{}},
		jobs:  map[int]*jobnode{},
		steps: map[int]*stepnode{},
		users: map[string]User{},
	}
}

// CreatePipeline saves p and sets its ID. Pipelines are unique per
// remote and name.
func (m *Memory) CreatePipeline(p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pn := range m.root.children {
		if pn.data.Remote == p.Remote && pn.data.Name == p.Name {
			return ErrPipelineExists
		}
	}

	m.nextPipeline++
	p.ID = m.nextPipeline

	data := *p
	data.Runs = nil
	m.root.children[p.ID] = &pipelinenode{
		children: map[int]*runnode{},
		data:     data,
	}

	logger.WithField("id", p.ID).Debug("pipeline saved in memory")

	return nil
}

// GetPipeline returns the pipeline with its runs.
func (m *Memory) GetPipeline(id int) (Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pn, ok := m.root.children[id]
	if !ok {
		return Pipeline{}, ErrPipelineNotFound
	}

	p := pn.data
	for n := 1; n <= len(pn.children); n++ {
		if rn, ok := pn.children[n]; ok {
			p.Runs = append(p.Runs, rn.data)
		}
	}

	return p, nil
}

// GetPipelines returns every pipeline on remote, or all of them if
// remote is empty, ordered by ID.
func (m *Memory) GetPipelines(remote string) ([]Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ps := []Pipeline{}
	for id := 1; id <= m.nextPipeline; id++ {
		pn, ok := m.root.children[id]
		if !ok {
			continue
		}

		if remote == "" || pn.data.Remote == remote {
			ps = append(ps, pn.data)
		}
	}

	return ps, nil
}

// GetPipelineID returns ErrNoPipelines when nothing matches.
func (m *Memory) GetPipelineID(remote, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, pn := range m.root.children {
		if pn.data.Remote == remote && pn.data.Name == name {
			return id, nil
		}
	}

	return 0, ErrNoPipelines
}

// UpdatePipeline saves the pipeline's definition and success status.
func (m *Memory) UpdatePipeline(p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pn, ok := m.root.children[p.ID]
	if !ok {
		return ErrPipelineNotFound
	}

	pn.data.Success = p.Success
	pn.data.Definition = p.Definition

	return nil
}

// CreateRun saves r as the next run of its pipeline.
func (m *Memory) CreateRun(r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pn, ok := m.root.children[r.PipelineID]
	if !ok {
		return ErrPipelineNotFound
	}

	r.Count = len(pn.children) + 1

	data := *r
	data.Jobs = nil
	pn.children[r.Count] = &runnode{data: data}

	return nil
}

// GetRun returns the nth run of a pipeline with its jobs.
func (m *Memory) GetRun(pid, n int) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rn, err := m.run(pid, n)
	if err != nil {
		return Run{}, err
	}

	r := rn.data
	for _, jn := range rn.children {
		r.Jobs = append(r.Jobs, jn.data)
	}

	return r, nil
}

// UpdateRun saves the run's success status and end time.
func (m *Memory) UpdateRun(r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rn, err := m.run(r.PipelineID, r.Count)
	if err != nil {
		return err
	}

	rn.data.Success = r.Success
	rn.data.End = r.End

	return nil
}

func (m *Memory) run(pid, n int) (*runnode, error) {
	pn, ok := m.root.children[pid]
	if !ok {
		return nil, ErrRunNotFound
	}

	rn, ok := pn.children[n]
	if !ok {
		return nil, ErrRunNotFound
	}

	return rn, nil
}

// CreateJob saves j under its run and sets its ID.
func (m *Memory) CreateJob(j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rn, err := m.run(j.PipelineID, j.RunCount)
	if err != nil {
		return err
	}

	m.nextJob++
	j.ID = m.nextJob

	data := *j
	data.Steps = nil
	jn := &jobnode{data: data}
	rn.children = append(rn.children, jn)
	m.jobs[j.ID] = jn

	return nil
}

// GetJob returns the job with its steps.
func (m *Memory) GetJob(id int) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jn, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}

	j := jn.data
	for _, sn := range jn.children {
		j.Steps = append(j.Steps, sn.data)
	}

	return j, nil
}

// UpdateJob saves the job's status, failure and times.
func (m *Memory) UpdateJob(j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jn, ok := m.jobs[j.ID]
	if !ok {
		return ErrJobNotFound
	}

	jn.data.Status = j.Status
	jn.data.Error = j.Error
	jn.data.Message = j.Message
	jn.data.Start = j.Start
	jn.data.End = j.End

	return nil
}

// CreateStep saves s under its job and sets its ID.
func (m *Memory) CreateStep(s *Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jn, ok := m.jobs[s.JobID]
	if !ok {
		return ErrJobNotFound
	}

	m.nextStep++
	s.ID = m.nextStep

	sn := &stepnode{data: *s}
	jn.children = append(jn.children, sn)
	m.steps[s.ID] = sn

	return nil
}

// GetStep returns ErrStepNotFound for unknown IDs.
func (m *Memory) GetStep(id int) (Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sn, ok := m.steps[id]
	if !ok {
		return Step{}, ErrStepNotFound
	}

	return sn.data, nil
}

// UpdateStep saves the step's success, exit code and end time.
func (m *Memory) UpdateStep(s *Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sn, ok := m.steps[s.ID]
	if !ok {
		return ErrStepNotFound
	}

	sn.data.Success = s.Success
	sn.data.ExitCode = s.ExitCode
	sn.data.End = s.End

	return nil
}

// CreateUser saves u with its password hashed.
func (m *Memory) CreateUser(u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.Email]; ok {
		return ErrUserExists
	}

	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
	if err != nil {
		return err
	}

	saved := *u
	saved.Password = string(password)
	m.users[u.Email] = saved

	return nil
}

// Authenticate checks pass against the saved hash.
func (m *Memory) Authenticate(email, pass string) error {
	m.mu.RLock()
	u, ok := m.users[email]
	m.mu.RUnlock()

	if !ok {
		return ErrNotAuthenticated
	}

	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(pass)) != nil {
		return ErrNotAuthenticated
	}

	return nil
}
