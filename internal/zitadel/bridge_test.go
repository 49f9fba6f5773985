package zitadel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/secrets"
)

// fakeAPI scripts the management API per-operation.
type fakeAPI struct {
	projects map[string]string // name -> id

	createProjectErr error
	createActionErr  error
	createRoleErr    error
	createUserErr    error
	createGrantErr   error
	createIAMErr     error

	oidcApps      []string // names registered, in order
	createdUsers  []UserParams
	grantedRoles  [][]string
	iamRoles      []string
	actionCreated bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{projects: map[string]string{}}
}

func (f *fakeAPI) CreateProject(_ context.Context, name string) (string, error) {
	if f.createProjectErr != nil {
		return "", f.createProjectErr
	}
	id := "proj-" + name
	f.projects[name] = id
	return id, nil
}

func (f *fakeAPI) GetProjectByName(_ context.Context, name string) (*Project, error) {
	id, ok := f.projects[name]
	if !ok {
		return nil, errors.NewNotFoundError("project not found", nil)
	}
	return &Project{ID: id, Name: name}, nil
}

func (f *fakeAPI) CreateOIDCApp(_ context.Context, _, name string, _, _ []string) (*OIDCApp, error) {
	f.oidcApps = append(f.oidcApps, name)
	return &OIDCApp{
		AppID:        "app-" + name,
		ClientID:     name + "@homelab",
		ClientSecret: "secret-" + name,
	}, nil
}

func (f *fakeAPI) CreateRole(_ context.Context, _, _, _, _ string) error {
	return f.createRoleErr
}

func (f *fakeAPI) CreateGroupsClaimAction(_ context.Context) error {
	if f.createActionErr != nil {
		return f.createActionErr
	}
	f.actionCreated = true
	return nil
}

func (f *fakeAPI) CreateUser(_ context.Context, params UserParams) (string, error) {
	if f.createUserErr != nil {
		return "", f.createUserErr
	}
	f.createdUsers = append(f.createdUsers, params)
	return "user-1", nil
}

func (f *fakeAPI) GetUserByLoginName(_ context.Context, loginName string) (*User, error) {
	return &User{ID: "user-1", LoginName: loginName}, nil
}

func (f *fakeAPI) CreateUserGrant(_ context.Context, _, _ string, roleKeys []string) (string, error) {
	if f.createGrantErr != nil {
		return "", f.createGrantErr
	}
	f.grantedRoles = append(f.grantedRoles, roleKeys)
	return "grant-1", nil
}

func (f *fakeAPI) UpdateUserGrant(_ context.Context, _, _ string, _ []string) error {
	return nil
}

func (f *fakeAPI) CreateIAMMembership(_ context.Context, _, role string) error {
	if f.createIAMErr != nil {
		return f.createIAMErr
	}
	f.iamRoles = append(f.iamRoles, role)
	return nil
}

// fakeBackend records logins in memory.
type fakeBackend struct {
	vault  bool
	logins map[string]secrets.Login
}

func newFakeBackend(vault bool) *fakeBackend {
	return &fakeBackend{vault: vault, logins: map[string]secrets.Login{}}
}

func (f *fakeBackend) Unlock(context.Context) error { return nil }
func (f *fakeBackend) Lock(context.Context) error   { return nil }

func (f *fakeBackend) CreateLogin(_ context.Context, login secrets.Login) (string, error) {
	f.logins[login.Name] = login
	return "item-" + login.Name, nil
}

func (f *fakeBackend) GetLogin(_ context.Context, name, _ string) (*secrets.Record, error) {
	login, ok := f.logins[name]
	if !ok {
		return nil, nil
	}
	return &secrets.Record{
		ID:       "item-" + name,
		Name:     name,
		Username: login.Username,
		Password: login.Password,
	}, nil
}

func (f *fakeBackend) CreateSecret(context.Context, string, string, map[string]string, map[string]string) error {
	return nil
}

func (f *fakeBackend) UpdateSecretKey(context.Context, string, string, string, string) error {
	return nil
}

func (f *fakeBackend) VaultBacked() bool { return f.vault }

var _ secrets.Backend = (*fakeBackend)(nil)

func adminUser() UserParams {
	return UserParams{
		Username:  "admin",
		Email:     "admin@example.com",
		FirstName: "Ada",
		LastName:  "Admin",
		Password:  "ChangeMe123",
	}
}

func newTestBridge(api *fakeAPI, backend secrets.Backend) *Bridge {
	return NewBridge(api, backend, "id.example.com", "argocd.example.com", "argocd", "homelab")
}

func TestBridge_Configure_VaultBacked(t *testing.T) {
	api := newFakeAPI()
	backend := newFakeBackend(true)
	bridge := newTestBridge(api, backend)

	vars, err := bridge.Configure(context.Background(), adminUser())
	require.NoError(t, err)

	assert.Equal(t, "https://id.example.com", vars["argo_cd_oidc_issuer"])
	assert.Equal(t, "argocd@homelab", vars["argo_cd_oidc_client_id"])
	assert.Equal(t, "https://id.example.com/oidc/v1/end_session", vars["argo_cd_oidc_logout_url"])
	assert.Equal(t, "item-"+OIDCCredentialsItem, vars["argo_cd_oidc_bitwarden_id"])

	// secret landed in the backend exactly once, with the write-once value
	stored := backend.logins[OIDCCredentialsItem]
	assert.Equal(t, "argocd@homelab", stored.Username)
	assert.Equal(t, "secret-argocd", stored.Password)

	assert.True(t, api.actionCreated)
	assert.Equal(t, []string{"argocd"}, api.oidcApps)
	assert.Len(t, api.createdUsers, 1)
	assert.Equal(t, [][]string{{"argocd_administrators"}}, api.grantedRoles)
	assert.Equal(t, []string{"IAM_OWNER"}, api.iamRoles)
}

func TestBridge_Configure_ClusterBacked(t *testing.T) {
	api := newFakeAPI()
	bridge := newTestBridge(api, newFakeBackend(false))

	vars, err := bridge.Configure(context.Background(), adminUser())
	require.NoError(t, err)

	// item ids mean nothing to templates without a vault
	_, ok := vars["argo_cd_oidc_bitwarden_id"]
	assert.False(t, ok)
	assert.Equal(t, "argocd@homelab", vars["argo_cd_oidc_client_id"])
}

func TestBridge_Configure_ConflictsAreSuccess(t *testing.T) {
	api := newFakeAPI()
	api.projects["homelab"] = "proj-existing"
	api.createProjectErr = errors.NewConflictError("project exists", nil)
	api.createActionErr = errors.NewConflictError("action exists", nil)
	api.createRoleErr = errors.NewConflictError("role exists", nil)
	api.createGrantErr = errors.NewConflictError("grant exists", nil)
	api.createIAMErr = errors.NewConflictError("membership exists", nil)

	bridge := newTestBridge(api, newFakeBackend(true))

	vars, err := bridge.Configure(context.Background(), adminUser())
	require.NoError(t, err)
	assert.Equal(t, "argocd@homelab", vars["argo_cd_oidc_client_id"])
}

func TestBridge_Configure_NonConflictErrorIsFatal(t *testing.T) {
	api := newFakeAPI()
	api.createUserErr = errors.NewCLIError("boom", nil, nil)

	bridge := newTestBridge(api, newFakeBackend(true))

	_, err := bridge.Configure(context.Background(), adminUser())
	require.Error(t, err)
	assert.True(t, errors.IsCLIError(err))
}

func TestBridge_Configure_ExistingUserIsGranted(t *testing.T) {
	api := newFakeAPI()
	api.createUserErr = errors.NewConflictError("user exists", nil)

	bridge := newTestBridge(api, newFakeBackend(true))

	_, err := bridge.Configure(context.Background(), adminUser())
	require.NoError(t, err)

	// the grant still happens against the resolved user
	assert.Equal(t, [][]string{{"argocd_administrators"}}, api.grantedRoles)
}

func TestBridge_ReadBack(t *testing.T) {
	api := newFakeAPI()
	api.projects["homelab"] = "proj-1"

	backend := newFakeBackend(true)
	backend.logins[OIDCCredentialsItem] = secrets.Login{
		Name:     OIDCCredentialsItem,
		Username: "argocd@homelab",
		Password: "write-once-secret",
	}

	bridge := newTestBridge(api, backend)

	vars, err := bridge.ReadBack(context.Background(), "admin")
	require.NoError(t, err)

	assert.Equal(t, "argocd@homelab", vars["argo_cd_oidc_client_id"])
	assert.Equal(t, "item-"+OIDCCredentialsItem, vars["argo_cd_oidc_bitwarden_id"])

	// nothing was registered or regenerated
	assert.Empty(t, api.oidcApps)
	assert.Empty(t, api.createdUsers)
	assert.False(t, api.actionCreated)
}

func TestBridge_ReadBack_MissingCredentials(t *testing.T) {
	api := newFakeAPI()
	api.projects["homelab"] = "proj-1"

	bridge := newTestBridge(api, newFakeBackend(true))

	_, err := bridge.ReadBack(context.Background(), "admin")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestBridge_ReadBack_MissingProject(t *testing.T) {
	bridge := newTestBridge(newFakeAPI(), newFakeBackend(true))

	_, err := bridge.ReadBack(context.Background(), "admin")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestBridge_RegisterConsumer(t *testing.T) {
	api := newFakeAPI()
	api.projects["homelab"] = "proj-1"

	backend := newFakeBackend(true)
	backend.logins[OIDCCredentialsItem] = secrets.Login{
		Name:     OIDCCredentialsItem,
		Username: "argocd@homelab",
		Password: "write-once-secret",
	}

	bridge := newTestBridge(api, backend)

	app, err := bridge.RegisterConsumer(context.Background(), "vouch",
		[]string{"https://vouch.example.com/auth"},
		[]string{"https://vouch.example.com"})
	require.NoError(t, err)

	assert.Equal(t, "vouch@homelab", app.ClientID)
	assert.Equal(t, "secret-vouch", app.ClientSecret)

	// exactly one new client; the argocd item is untouched
	assert.Equal(t, []string{"vouch"}, api.oidcApps)
	assert.Equal(t, "write-once-secret", backend.logins[OIDCCredentialsItem].Password)
}

func TestBridge_EnsureRole_ConflictIsSuccess(t *testing.T) {
	api := newFakeAPI()
	api.projects["homelab"] = "proj-1"
	api.createRoleErr = errors.NewConflictError("role exists", nil)

	bridge := newTestBridge(api, newFakeBackend(true))

	require.NoError(t, bridge.EnsureRole(context.Background(), "minio_users", "MinIO Users"))
}

func TestBridge_GrantUserRoles(t *testing.T) {
	api := newFakeAPI()
	api.projects["homelab"] = "proj-1"

	bridge := newTestBridge(api, newFakeBackend(true))

	require.NoError(t, bridge.GrantUserRoles(context.Background(), "admin",
		[]string{"minio_users", "minio_admins"}))
	assert.Equal(t, [][]string{{"minio_users", "minio_admins"}}, api.grantedRoles)

	api.createGrantErr = errors.NewConflictError("grant exists", nil)
	require.NoError(t, bridge.GrantUserRoles(context.Background(), "admin",
		[]string{"minio_users"}))
}
