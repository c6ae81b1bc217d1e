// Package docker provisions job environments as docker volumes. Each
// job gets its own volume holding a copy of the project, and every
// command runs in a fresh container of the job's image with that volume
// mounted.
package docker

import (
	"context"
	"fmt"
	"io"
	"sort"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"
	"github.com/run-ci/matrix/runner"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "docker",
	})
}

const (
	// Workspace is where the job volume is mounted.
	Workspace = "/ci"

	// DefaultGitImage is used to clone remotes. Its entrypoint is git.
	DefaultGitImage = "alpine/git:latest"
	// DefaultCopyImage is used to copy a local source directory.
	DefaultCopyImage = "alpine:3"

	sourceMount = "/src"
)

// Provisioner provisions job environments on a docker daemon.
type Provisioner struct {
	client *docker.Client

	// Source is a local directory copied into every job's workspace.
	// When it's empty the event's remote is cloned instead.
	Source    string
	GitImage  string
	CopyImage string
}

// NewProvisioner returns a Provisioner talking to the daemon configured
// in the environment (DOCKER_HOST and friends).
func NewProvisioner() (*Provisioner, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, err
	}

	return &Provisioner{
		client:    client,
		GitImage:  DefaultGitImage,
		CopyImage: DefaultCopyImage,
	}, nil
}

// Ping checks that the daemon is reachable.
func (p *Provisioner) Ping() error {
	return p.client.Ping()
}

// Provision pulls the job's image if it isn't present, creates a volume
// for the job and populates it with the project source.
func (p *Provisioner) Provision(ctx context.Context, job runner.Job) (runner.Environment, error) {
	img := job.Image()
	logger := logger.WithFields(log.Fields{
		"image":          img,
		"python_version": job.Entry.PythonVersion,
	})

	if err := p.ensureImage(ctx, img); err != nil {
		logger.WithError(err).Debug("unable to get job image")
		return nil, fmt.Errorf("getting image %v: %w", img, err)
	}

	vol, err := p.client.CreateVolume(docker.CreateVolumeOptions{
		Name:    fmt.Sprintf("runlet.%v", uuid.New()),
		Context: ctx,
	})
	if err != nil {
		logger.WithError(err).Debug("unable to create job volume")
		return nil, fmt.Errorf("creating volume: %w", err)
	}

	logger = logger.WithField("vol", vol.Name)
	logger.Debugf("created volume: %v", vol.Name)

	env := &Environment{
		client: p.client,
		image:  img,
		volume: vol.Name,
		env:    envVars(job),
	}

	src := p.source(job)
	if err := p.ensureImage(ctx, src.image); err != nil {
		env.Teardown(context.Background())
		return nil, fmt.Errorf("getting image %v: %w", src.image, err)
	}

	logger.Debug("populating volume")

	out := logger.WriterLevel(log.DebugLevel)
	defer out.Close()

	for _, cmd := range src.cmds {
		status, err := run(ctx, p.client, container{
			image:      src.image,
			entrypoint: src.entrypoint,
			cmd:        cmd,
			binds:      append([]string{vol.Name + ":" + Workspace}, src.binds...),
			workdir:    Workspace,
		}, out)
		if err == nil && status != 0 {
			err = fmt.Errorf("%v exited with status %v", cmd, status)
		}

		if err != nil {
			env.Teardown(context.Background())
			return nil, fmt.Errorf("populating workspace: %w", err)
		}
	}

	return env, nil
}

func (p *Provisioner) ensureImage(ctx context.Context, ref string) error {
	_, err := p.client.InspectImage(ref)
	if err == nil {
		return nil
	}

	if err != docker.ErrNoSuchImage {
		return err
	}

	repo, tag := docker.ParseRepositoryTag(ref)
	if tag == "" {
		tag = "latest"
	}

	logger.WithField("image", ref).Info("pulling image")

	return p.client.PullImage(docker.PullImageOptions{
		Repository: repo,
		Tag:        tag,
		Context:    ctx,
	}, docker.AuthConfiguration{})
}

// sourceSpec describes the containers that fill a job's workspace.
type sourceSpec struct {
	image      string
	entrypoint []string
	cmds       [][]string
	binds      []string
}

func (p *Provisioner) source(job runner.Job) sourceSpec {
	if p.Source != "" {
		return sourceSpec{
			image: p.copyImage(),
			cmds:  [][]string{{"cp", "-a", sourceMount + "/.", Workspace + "/"}},
			binds: []string{p.Source + ":" + sourceMount + ":ro"},
		}
	}

	ev := job.Event
	clone := []string{"clone", "--quiet"}
	if branch := ev.TargetBranch(); branch != "" && ev.Commit == "" {
		clone = append(clone, "--depth", "1", "--branch", branch)
	}
	clone = append(clone, ev.Remote, ".")

	spec := sourceSpec{
		image:      p.gitImage(),
		entrypoint: []string{"git"},
		cmds:       [][]string{clone},
	}

	if ev.Commit != "" {
		spec.cmds = append(spec.cmds, []string{"checkout", "--quiet", ev.Commit})
	}

	return spec
}

func (p *Provisioner) gitImage() string {
	if p.GitImage == "" {
		return DefaultGitImage
	}

	return p.GitImage
}

func (p *Provisioner) copyImage() string {
	if p.CopyImage == "" {
		return DefaultCopyImage
	}

	return p.CopyImage
}

// envVars builds the environment of every command of the job, sorted
// by name.
func envVars(job runner.Job) []string {
	vars := map[string]string{
		"CI":             "true",
		"CI_WORKFLOW":    job.Workflow.Name,
		"CI_EVENT":       job.Event.Kind,
		"CI_BRANCH":      job.Event.TargetBranch(),
		"CI_COMMIT":      job.Event.Commit,
		"PYTHON_VERSION": job.Entry.PythonVersion,
	}

	for k, v := range job.Workflow.Environment.Env {
		vars[k] = v
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	return env
}

// Environment is a job's volume plus the image its commands run in.
type Environment struct {
	client *docker.Client
	image  string
	volume string
	env    []string
}

// Exec runs cmd with sh in a new container and returns its exit status.
func (env *Environment) Exec(ctx context.Context, cmd string, out io.Writer) (int, error) {
	return run(ctx, env.client, container{
		image:   env.image,
		cmd:     []string{"sh", "-c", cmd},
		env:     env.env,
		binds:   []string{env.volume + ":" + Workspace},
		workdir: Workspace,
	}, out)
}

// Teardown removes the job's volume.
func (env *Environment) Teardown(ctx context.Context) error {
	logger.WithField("vol", env.volume).Debug("removing volume")

	return env.client.RemoveVolume(env.volume)
}

type container struct {
	image      string
	entrypoint []string
	cmd        []string
	env        []string
	binds      []string
	workdir    string
}

// run creates and starts a container, streams its output and waits for
// it to exit. The container is always removed.
func run(ctx context.Context, client *docker.Client, spec container, out io.Writer) (int, error) {
	logger := logger.WithField("image", spec.image)

	c, err := client.CreateContainer(docker.CreateContainerOptions{
		Config: &docker.Config{
			Image:      spec.image,
			Entrypoint: spec.entrypoint,
			Cmd:        spec.cmd,
			Env:        spec.env,
			WorkingDir: spec.workdir,
		},
		HostConfig: &docker.HostConfig{
			Binds: spec.binds,
		},
		Context: ctx,
	})
	if err != nil {
		return -1, fmt.Errorf("creating container: %w", err)
	}

	logger = logger.WithField("container", c.ID)

	defer func() {
		err := client.RemoveContainer(docker.RemoveContainerOptions{
			ID:            c.ID,
			Force:         true,
			RemoveVolumes: true,
		})
		if err != nil {
			logger.WithError(err).Warn("unable to remove container")
		}
	}()

	if err := client.StartContainerWithContext(c.ID, nil, ctx); err != nil {
		return -1, fmt.Errorf("starting container: %w", err)
	}

	logsDone := make(chan error, 1)
	go func() {
		logsDone <- client.Logs(docker.LogsOptions{
			Context:      ctx,
			Container:    c.ID,
			OutputStream: out,
			ErrorStream:  out,
			Follow:       true,
			Stdout:       true,
			Stderr:       true,
		})
	}()

	status, err := client.WaitContainerWithContext(c.ID, ctx)
	if err != nil {
		return -1, fmt.Errorf("waiting for container: %w", err)
	}

	if err := <-logsDone; err != nil {
		logger.WithError(err).Debug("unable to stream container logs")
	}

	logger.Debugf("container exited with status %v", status)

	return status, nil
}
