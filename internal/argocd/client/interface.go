package client

import (
	"context"

	"github.com/argoproj/argo-cd/v2/pkg/apis/application/v1alpha1"
)

//go:generate mockgen -source=interface.go -destination=../../../test/mocks/mock_argocd_client.go -package=mocks

// Interface defines the Argo CD API operations the orchestrator depends on
type Interface interface {
	// Application operations
	GetApplication(ctx context.Context, name string) (*v1alpha1.Application, error)
	CreateApplication(ctx context.Context, app *v1alpha1.Application, upsert bool) (*v1alpha1.Application, error)
	SyncApplication(ctx context.Context, name string) (*v1alpha1.Application, error)

	// Project operations
	GetProject(ctx context.Context, name string) (*v1alpha1.AppProject, error)
	CreateProject(ctx context.Context, project *v1alpha1.AppProject, upsert bool) (*v1alpha1.AppProject, error)
	UpdateProject(ctx context.Context, project *v1alpha1.AppProject) (*v1alpha1.AppProject, error)

	// Close closes the client connection
	Close() error
}

// Ensure Client implements Interface
var _ Interface = (*Client)(nil)
