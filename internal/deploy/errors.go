package deploy

import (
	"errors"
	"fmt"
)

var (
	// ErrSubmissionFailed is returned when the API did not accept the deployment.
	ErrSubmissionFailed = errors.New("there was an error creating the deployment")
	// ErrDeploymentFailed matches any *DeploymentError.
	ErrDeploymentFailed = errors.New("deployment failed")
	// ErrDeploymentTimeout is returned when polling exceeds the policy timeout.
	ErrDeploymentTimeout = errors.New("timed out waiting for deployment")
)

// DeploymentError is a deployment the platform reported as failed or cancelled.
type DeploymentError struct {
	ID     int
	Status string
	Reason string
}

func (e *DeploymentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("deployment %d %s", e.ID, e.Status)
	}
	return fmt.Sprintf("deployment %d %s: %s", e.ID, e.Status, e.Reason)
}

func (e *DeploymentError) Is(target error) bool {
	return target == ErrDeploymentFailed
}
