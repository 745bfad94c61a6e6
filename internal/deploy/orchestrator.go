// Package deploy drives a single deployment: validate the project, build it,
// submit it to the API and wait for the platform to finish.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/ymir/internal/api"
	"github.com/lucasnoah/ymir/internal/project"
)

// State is a phase of a deployment.
type State string

const (
	StateValidating State = "validating"
	StateBuilding   State = "building"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// RemoteAPI is the part of the platform API a deployment needs.
type RemoteAPI interface {
	CreateDeployment(ctx context.Context, projectID int, environment string, configuration map[string]any, idempotencyKey string) (int, error)
	GetDeployment(ctx context.Context, deploymentID int) (api.Deployment, error)
}

// Builder runs the local build for an environment.
type Builder interface {
	Run(ctx context.Context, environment string, cfg *project.Configuration) error
}

// PollPolicy bounds how deployment status is polled.
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPollPolicy polls every 5s for at most 30 minutes.
var DefaultPollPolicy = PollPolicy{Interval: 5 * time.Second, Timeout: 30 * time.Minute}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultPollPolicy.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultPollPolicy.Timeout
	}
	return p
}

// Result describes a successful deployment.
type Result struct {
	DeploymentID int
	Environment  string
	Message      string
}

// Orchestrator composes the deployment lifecycle.
type Orchestrator struct {
	api     RemoteAPI
	builder Builder
	policy  PollPolicy
	logger  *slog.Logger

	progress io.Writer // live progress output; nil = silent
	newKey   func() string

	// OnTransition is called on every state change.
	OnTransition func(State)
	// OnStatus is called with every status read while polling.
	OnStatus func(status string)
}

// NewOrchestrator creates an Orchestrator. A nil logger discards logs.
func NewOrchestrator(remote RemoteAPI, builder Builder, policy PollPolicy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		api:     remote,
		builder: builder,
		policy:  policy.withDefaults(),
		logger:  logger,
		newKey:  uuid.NewString,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

// Policy returns the effective poll policy.
func (o *Orchestrator) Policy() PollPolicy {
	return o.policy
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "  → "+format+"\n", args...)
	}
}

func (o *Orchestrator) transition(s State) {
	o.logger.Debug("deployment state", "state", string(s))
	if o.OnTransition != nil {
		o.OnTransition(s)
	}
}

// Deploy validates, builds and deploys the project to the environment and
// waits for the platform to report a terminal status.
func (o *Orchestrator) Deploy(ctx context.Context, cfg *project.Configuration, environment string) (*Result, error) {
	o.transition(StateValidating)
	projectID, err := validate(cfg, environment)
	if err != nil {
		o.transition(StateFailed)
		return nil, err
	}

	o.transition(StateBuilding)
	if err := o.builder.Run(ctx, environment, cfg); err != nil {
		o.transition(StateFailed)
		return nil, err
	}

	o.transition(StateSubmitting)
	id, err := o.submit(ctx, cfg, projectID, environment)
	if err != nil {
		o.transition(StateFailed)
		return nil, err
	}
	o.logf("deployment %d created", id)

	o.transition(StatePolling)
	if err := o.wait(ctx, id); err != nil {
		o.transition(StateFailed)
		return nil, err
	}

	o.transition(StateSucceeded)
	return &Result{
		DeploymentID: id,
		Environment:  environment,
		Message:      SuccessMessage(environment),
	}, nil
}

// SuccessMessage is shown once a deployment finishes.
func SuccessMessage(environment string) string {
	return fmt.Sprintf("Project deployed successfully to %q environment", environment)
}

func validate(cfg *project.Configuration, environment string) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if _, err := cfg.Environment(environment); err != nil {
		return 0, err
	}
	return cfg.ProjectID()
}

func (o *Orchestrator) submit(ctx context.Context, cfg *project.Configuration, projectID int, environment string) (int, error) {
	key := o.newKey()
	o.logger.Debug("creating deployment", "project", projectID, "environment", environment, "idempotency_key", key)

	id, err := o.api.CreateDeployment(ctx, projectID, environment, cfg.Document(), key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	if id <= 0 {
		return 0, ErrSubmissionFailed
	}
	return id, nil
}

// wait polls the deployment until it finishes, fails, the policy timeout
// elapses or ctx is cancelled.
func (o *Orchestrator) wait(ctx context.Context, id int) error {
	pollCtx, cancel := context.WithTimeout(ctx, o.policy.Timeout)
	defer cancel()

	ticker := time.NewTicker(o.policy.Interval)
	defer ticker.Stop()

	last := ""
	for {
		d, err := o.api.GetDeployment(pollCtx, id)
		if err != nil {
			if cerr := pollError(ctx, pollCtx, id); cerr != nil {
				return cerr
			}
			return fmt.Errorf("fetch deployment %d: %w", id, err)
		}

		if d.Status != last {
			o.logf("deployment %d is %s", id, d.Status)
			last = d.Status
		}
		if o.OnStatus != nil {
			o.OnStatus(d.Status)
		}

		switch d.Status {
		case api.StatusFinished:
			return nil
		case api.StatusFailed, api.StatusCancelled:
			return &DeploymentError{ID: id, Status: d.Status, Reason: d.FailedMessage}
		}

		select {
		case <-pollCtx.Done():
			return pollError(ctx, pollCtx, id)
		case <-ticker.C:
		}
	}
}

// pollError tells a cancelled parent context apart from the poll timeout.
// It returns nil while both contexts are live.
func pollError(parent, pollCtx context.Context, id int) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: deployment %d", ErrDeploymentTimeout, id)
	}
	return nil
}
