package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucasnoah/ymir/internal/project"
)

// ErrBuildStepFailed matches any *StepError.
var ErrBuildStepFailed = errors.New("build step failed")

// Step is one unit of the local build.
type Step interface {
	Description() string
	Perform(ctx context.Context, environment string, cfg *project.Configuration) error
}

// Reporter receives each step description before the step runs.
type Reporter interface {
	Step(description string)
}

// StepError wraps the failure of a single step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("build failed: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return target == ErrBuildStepFailed
}

// Pipeline runs build steps in registration order.
type Pipeline struct {
	steps    []Step
	reporter Reporter
}

// NewPipeline creates a pipeline. reporter may be nil.
func NewPipeline(reporter Reporter, steps ...Step) *Pipeline {
	p := &Pipeline{reporter: reporter}
	for _, s := range steps {
		p.Add(s)
	}
	return p
}

// Add appends a step.
func (p *Pipeline) Add(step Step) {
	p.steps = append(p.steps, step)
}

// Run performs every step for the environment. The first failing step stops
// the build and its error is returned as a *StepError.
func (p *Pipeline) Run(ctx context.Context, environment string, cfg *project.Configuration) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.reporter != nil {
			p.reporter.Step(step.Description())
		}
		if err := step.Perform(ctx, environment, cfg); err != nil {
			return &StepError{Step: step.Description(), Err: err}
		}
	}
	return nil
}
