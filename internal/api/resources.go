package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Deployment statuses reported by the API.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Project reflects API project payloads.
type Project struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
}

// Deployment reflects API deployment payloads.
type Deployment struct {
	ID            int    `json:"id"`
	Status        string `json:"status"`
	FailedMessage string `json:"failed_message"`
}

// BastionHost is the jump host in front of a private database server.
type BastionHost struct {
	Endpoint   string `json:"endpoint"`
	PrivateKey string `json:"private_key"`
}

// DatabaseServer reflects API database server payloads.
type DatabaseServer struct {
	ID                 int          `json:"id"`
	Name               string       `json:"name"`
	Endpoint           string       `json:"endpoint"`
	PubliclyAccessible bool         `json:"publicly_accessible"`
	BastionHost        *BastionHost `json:"bastion_host"`
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, projectID int) (Project, error) {
	var out Project
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d", projectID), nil, &out, nil); err != nil {
		return Project{}, err
	}
	return out, nil
}

// CreateDeployment submits a deployment of the given configuration document
// and returns the id assigned by the API. The id is zero when the response
// carried none.
func (c *Client) CreateDeployment(ctx context.Context, projectID int, environment string, configuration map[string]any, idempotencyKey string) (int, error) {
	path := fmt.Sprintf("/projects/%d/environments/%s/deployments", projectID, url.PathEscape(environment))
	body := map[string]any{"configuration": configuration}

	var ro *requestOptions
	if idempotencyKey != "" {
		ro = &requestOptions{headers: map[string]string{"Idempotency-Key": idempotencyKey}}
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &out, ro); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// GetDeployment fetches the current state of a deployment.
func (c *Client) GetDeployment(ctx context.Context, deploymentID int) (Deployment, error) {
	var out Deployment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/deployments/%d", deploymentID), nil, &out, nil); err != nil {
		return Deployment{}, err
	}
	return out, nil
}

// GetDatabaseServer fetches a database server with its bastion host.
func (c *Client) GetDatabaseServer(ctx context.Context, serverID int) (DatabaseServer, error) {
	var out DatabaseServer
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/database-servers/%d", serverID), nil, &out, nil); err != nil {
		return DatabaseServer{}, err
	}
	return out, nil
}
