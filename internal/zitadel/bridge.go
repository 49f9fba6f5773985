package zitadel

import (
	"context"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
	"github.com/smol-labs/homelab-bootstrap/internal/secrets"
)

const (
	// OIDCCredentialsItem is the backend item holding the Argo CD OIDC
	// client credentials.
	OIDCCredentialsItem = "argocd-oidc-credentials"

	roleAdministrators = "argocd_administrators"
	roleUsers          = "argocd_users"
)

//go:generate mockgen -source=bridge.go -destination=../../test/mocks/mock_zitadel_api.go -package=mocks

// API is the management surface the bridge drives.
type API interface {
	CreateProject(ctx context.Context, name string) (string, error)
	GetProjectByName(ctx context.Context, name string) (*Project, error)
	CreateOIDCApp(ctx context.Context, projectID, name string, redirectURIs, logoutURIs []string) (*OIDCApp, error)
	CreateRole(ctx context.Context, projectID, roleKey, displayName, group string) error
	CreateGroupsClaimAction(ctx context.Context) error
	CreateUser(ctx context.Context, params UserParams) (string, error)
	GetUserByLoginName(ctx context.Context, loginName string) (*User, error)
	CreateUserGrant(ctx context.Context, userID, projectID string, roleKeys []string) (string, error)
	UpdateUserGrant(ctx context.Context, userID, grantID string, roleKeys []string) error
	CreateIAMMembership(ctx context.Context, userID, role string) error
}

var _ API = (*Client)(nil)

// Bridge wires applications into Zitadel as OIDC clients under a single
// management project. Configure runs once on a fresh instance; ReadBack
// recovers identifiers on later runs; RegisterConsumer adds further clients
// either way.
type Bridge struct {
	api          API
	backend      secrets.Backend
	hostname     string
	argoHostname string
	argoNS       string
	project      string
	projectID    string
}

// NewBridge builds a Bridge. hostname is the external Zitadel hostname,
// argoHostname the external Argo CD hostname used for redirect URIs, project
// the name of the management project holding all OIDC clients.
func NewBridge(api API, backend secrets.Backend, hostname, argoHostname, argoNamespace, project string) *Bridge {
	return &Bridge{
		api:          api,
		backend:      backend,
		hostname:     hostname,
		argoHostname: argoHostname,
		argoNS:       argoNamespace,
		project:      project,
	}
}

// IssuerURL returns the OIDC issuer URL of the instance.
func (b *Bridge) IssuerURL() string {
	return "https://" + b.hostname
}

// Configure performs the one-time OIDC wiring on a freshly installed
// instance: project, groups claim action, Argo CD OIDC app, roles, admin
// user, grants and IAM membership. The OIDC client secret is written to the
// secret backend exactly once; it is never retrievable from Zitadel again.
func (b *Bridge) Configure(ctx context.Context, user UserParams) (map[string]string, error) {
	log := logging.WithField("project", b.project)

	projectID, err := b.ensureProject(ctx)
	if err != nil {
		return nil, err
	}

	if err := b.api.CreateGroupsClaimAction(ctx); err != nil {
		if !errors.IsConflictError(err) {
			return nil, err
		}
		log.Info("Groups claim action already exists")
	}

	app, err := b.api.CreateOIDCApp(ctx, projectID, "argocd",
		[]string{"https://" + b.argoHostname + "/auth/callback"},
		[]string{"https://" + b.argoHostname})
	if err != nil {
		return nil, err
	}
	log.WithField("client_id", app.ClientID).Info("Registered Argo CD OIDC application")

	roles := []struct{ key, display string }{
		{roleAdministrators, "Argo CD Administrators"},
		{roleUsers, "Argo CD Users"},
	}
	for _, role := range roles {
		if err := b.EnsureRole(ctx, role.key, role.display); err != nil {
			return nil, err
		}
	}

	vars := b.templateVars(app.ClientID)

	id, err := b.backend.CreateLogin(ctx, secrets.Login{
		Name:      OIDCCredentialsItem,
		ItemURL:   b.argoHostname,
		Namespace: b.argoNS,
		Username:  app.ClientID,
		Password:  app.ClientSecret,
	})
	if err != nil {
		return nil, err
	}
	if b.backend.VaultBacked() {
		vars["argo_cd_oidc_bitwarden_id"] = id
	}

	if err := b.setupAdminUser(ctx, projectID, user); err != nil {
		return nil, err
	}

	return vars, nil
}

// ReadBack recovers the template vars from an already configured instance
// without registering anything or touching the stored client secret.
func (b *Bridge) ReadBack(ctx context.Context, adminUser string) (map[string]string, error) {
	if _, err := b.api.GetUserByLoginName(ctx, adminUser); err != nil {
		// informational only, the admin user is not part of the template vars
		logging.WithField("user", adminUser).WithError(err).Warn("Cannot resolve admin user")
	}

	if _, err := b.resolveProjectID(ctx); err != nil {
		return nil, err
	}

	record, err := b.backend.GetLogin(ctx, OIDCCredentialsItem, b.argoNS)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.NewNotFoundError("OIDC credentials item is missing", map[string]interface{}{
			"item": OIDCCredentialsItem,
		})
	}

	vars := b.templateVars(record.Username)
	if b.backend.VaultBacked() {
		vars["argo_cd_oidc_bitwarden_id"] = record.ID
	}
	return vars, nil
}

// RegisterConsumer adds one more OIDC client to the project for a downstream
// application. Existing clients, in particular the Argo CD one, are never
// touched.
func (b *Bridge) RegisterConsumer(ctx context.Context, name string, redirectURIs, logoutURIs []string) (*OIDCApp, error) {
	projectID, err := b.resolveProjectID(ctx)
	if err != nil {
		return nil, err
	}

	app, err := b.api.CreateOIDCApp(ctx, projectID, name, redirectURIs, logoutURIs)
	if err != nil {
		return nil, err
	}

	logging.WithFields(map[string]interface{}{
		"consumer":  name,
		"client_id": app.ClientID,
	}).Info("Registered OIDC consumer")
	return app, nil
}

// EnsureRole creates a project role, treating an existing role as success.
func (b *Bridge) EnsureRole(ctx context.Context, roleKey, displayName string) error {
	projectID, err := b.resolveProjectID(ctx)
	if err != nil {
		return err
	}

	if err := b.api.CreateRole(ctx, projectID, roleKey, displayName, roleKey); err != nil {
		if !errors.IsConflictError(err) {
			return err
		}
		logging.WithField("role", roleKey).Info("Role already exists")
	}
	return nil
}

// GrantUserRoles grants project roles to the user behind loginName. An
// already existing grant is success.
func (b *Bridge) GrantUserRoles(ctx context.Context, loginName string, roles []string) error {
	projectID, err := b.resolveProjectID(ctx)
	if err != nil {
		return err
	}

	user, err := b.api.GetUserByLoginName(ctx, loginName)
	if err != nil {
		return err
	}

	if _, err := b.api.CreateUserGrant(ctx, user.ID, projectID, roles); err != nil {
		if !errors.IsConflictError(err) {
			return err
		}
		logging.WithFields(map[string]interface{}{
			"user":  loginName,
			"roles": roles,
		}).Info("User grant already exists")
	}
	return nil
}

func (b *Bridge) ensureProject(ctx context.Context) (string, error) {
	if b.projectID != "" {
		return b.projectID, nil
	}

	projectID, err := b.api.CreateProject(ctx, b.project)
	if err == nil {
		b.projectID = projectID
		return projectID, nil
	}
	if !errors.IsConflictError(err) {
		return "", err
	}

	logging.WithField("project", b.project).Info("Project already exists, resolving id")
	return b.resolveProjectID(ctx)
}

func (b *Bridge) resolveProjectID(ctx context.Context) (string, error) {
	if b.projectID != "" {
		return b.projectID, nil
	}

	project, err := b.api.GetProjectByName(ctx, b.project)
	if err != nil {
		return "", err
	}
	b.projectID = project.ID
	return b.projectID, nil
}

func (b *Bridge) setupAdminUser(ctx context.Context, projectID string, user UserParams) error {
	log := logging.WithField("user", user.Username)

	userID, err := b.api.CreateUser(ctx, user)
	if err != nil {
		if !errors.IsConflictError(err) {
			return err
		}
		log.Info("Admin user already exists")
		existing, err := b.api.GetUserByLoginName(ctx, user.Username)
		if err != nil {
			return err
		}
		userID = existing.ID
	}

	if _, err := b.api.CreateUserGrant(ctx, userID, projectID, []string{roleAdministrators}); err != nil {
		if !errors.IsConflictError(err) {
			return err
		}
		log.Info("User grant already exists")
	}

	if err := b.api.CreateIAMMembership(ctx, userID, "IAM_OWNER"); err != nil {
		if !errors.IsConflictError(err) {
			return err
		}
		log.Info("IAM membership already exists")
	}

	return nil
}

func (b *Bridge) templateVars(clientID string) map[string]string {
	return map[string]string{
		"argo_cd_oidc_issuer":     "https://" + b.hostname,
		"argo_cd_oidc_client_id":  clientID,
		"argo_cd_oidc_logout_url": "https://" + b.hostname + "/oidc/v1/end_session",
	}
}
