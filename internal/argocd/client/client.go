package client

import (
	"context"
	"crypto/tls"
	"fmt"

	applicationpkg "github.com/argoproj/argo-cd/v2/pkg/apiclient/application"
	projectpkg "github.com/argoproj/argo-cd/v2/pkg/apiclient/project"
	"github.com/argoproj/argo-cd/v2/pkg/apis/application/v1alpha1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client provides a gRPC client for the Argo CD application and project
// services, the only surfaces the install orchestrator touches.
type Client struct {
	config *Config
	conn   *grpc.ClientConn

	appClient     applicationpkg.ApplicationServiceClient
	projectClient projectpkg.ProjectServiceClient
}

// New creates a new Argo CD gRPC client with the provided configuration
func New(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := &Client{config: config}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return client, nil
}

func (c *Client) connect() error {
	var opts []grpc.DialOption

	opts = append(opts, grpc.WithPerRPCCredentials(newJWTCredentials(c.config.AuthToken)))

	if c.config.PlainText {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: c.config.Insecure,
		}
		if c.config.ClientCertFile != "" && c.config.ClientCertKeyFile != "" {
			cert, err := tls.LoadX509KeyPair(c.config.ClientCertFile, c.config.ClientCertKeyFile)
			if err != nil {
				return fmt.Errorf("failed to load client certificates: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts = append(opts, grpc.WithTransportCredentials(grpccreds.NewTLS(tlsConfig)))
	}

	if c.config.UserAgent != "" {
		opts = append(opts, grpc.WithUserAgent(c.config.UserAgent))
	}

	conn, err := grpc.NewClient(c.config.ServerAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	c.conn = conn
	c.appClient = applicationpkg.NewApplicationServiceClient(conn)
	c.projectClient = projectpkg.NewProjectServiceClient(conn)

	return nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsNotFound reports whether err is an explicit absence signal from the
// server. Anything else (auth, network) must never be treated as absent.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// Application operations

// GetApplication retrieves a single Argo CD application by name
func (c *Client) GetApplication(ctx context.Context, name string) (*v1alpha1.Application, error) {
	req := &applicationpkg.ApplicationQuery{
		Name: &name,
	}
	resp, err := c.appClient.Get(ctx, req)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return resp, nil
}

// CreateApplication creates a new Argo CD application
func (c *Client) CreateApplication(ctx context.Context, app *v1alpha1.Application, upsert bool) (*v1alpha1.Application, error) {
	validate := true
	req := &applicationpkg.ApplicationCreateRequest{
		Application: app,
		Upsert:      &upsert,
		Validate:    &validate,
	}
	resp, err := c.appClient.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return resp, nil
}

// SyncApplication triggers a sync operation for an Argo CD application
func (c *Client) SyncApplication(ctx context.Context, name string) (*v1alpha1.Application, error) {
	prune := false
	req := &applicationpkg.ApplicationSyncRequest{
		Name:     &name,
		Prune:    &prune,
		Strategy: &v1alpha1.SyncStrategy{},
	}
	resp, err := c.appClient.Sync(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to sync application: %w", err)
	}
	return resp, nil
}

// Project operations

// GetProject retrieves a single Argo CD project by name
func (c *Client) GetProject(ctx context.Context, name string) (*v1alpha1.AppProject, error) {
	req := &projectpkg.ProjectQuery{
		Name: name,
	}
	resp, err := c.projectClient.Get(ctx, req)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return resp, nil
}

// CreateProject creates a new Argo CD project
func (c *Client) CreateProject(ctx context.Context, project *v1alpha1.AppProject, upsert bool) (*v1alpha1.AppProject, error) {
	req := &projectpkg.ProjectCreateRequest{
		Project: project,
		Upsert:  upsert,
	}
	resp, err := c.projectClient.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return resp, nil
}

// UpdateProject updates an existing Argo CD project
func (c *Client) UpdateProject(ctx context.Context, project *v1alpha1.AppProject) (*v1alpha1.AppProject, error) {
	req := &projectpkg.ProjectUpdateRequest{
		Project: project,
	}
	resp, err := c.projectClient.Update(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return resp, nil
}
