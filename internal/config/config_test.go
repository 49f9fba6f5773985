package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
argocd:
  server_addr: argocd.example.com:443
  auth_token:
    value_from:
      env: ARGOCD_AUTH_TOKEN
  hostname: argocd.example.com
bitwarden:
  enabled: true
  password:
    value_from:
      env: BW_PASSWORD
apps:
  zitadel:
    enabled: true
    init:
      enabled: true
      values:
        admin_user: admin
    argo:
      repo: https://github.com/example/argocd-apps
      path: zitadel/
      revision: main
      namespace: zitadel
      project:
        source_repos:
          - https://github.com/zitadel/zitadel-charts
      secret_keys:
        hostname: sso.example.com
  vouch:
    enabled: false
    argo:
      repo: https://github.com/example/argocd-apps
      path: vouch/
      namespace: vouch
  cert-manager:
    enabled: true
    argo:
      repo: https://github.com/example/argocd-apps
      path: cert-manager/
      namespace: cert-manager
  nextcloud:
    enabled: true
    argo:
      part_of_app_of_apps: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	ctx, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	app := ctx.App("zitadel")
	require.NotNil(t, app)
	assert.Equal(t, "zitadel", app.Name)
	assert.True(t, app.Enabled)
	assert.True(t, app.Init.Enabled)
	assert.Equal(t, "sso.example.com", app.SecretKey("hostname"))
	assert.Equal(t, "argocd", ctx.ArgoCD().Namespace)
	assert.True(t, ctx.VaultEnabled())
}

func TestLoad_NormalizesProjectInvariants(t *testing.T) {
	ctx, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	app := ctx.App("zitadel")
	// the app namespace is always a project destination
	assert.Contains(t, app.Argo.Project.DestinationNamespaces, "zitadel")
	// the app repo is always an allowed source, on top of declared extras
	assert.Contains(t, app.Argo.Project.SourceRepos, "https://github.com/example/argocd-apps")
	assert.Contains(t, app.Argo.Project.SourceRepos, "https://github.com/zitadel/zitadel-charts")
}

func TestLoad_MissingArgoParams(t *testing.T) {
	broken := `
apps:
  broken:
    enabled: true
    argo:
      repo: https://github.com/example/argocd-apps
`
	_, err := Load(writeConfig(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required argo parameters")
}

func TestLoad_PartOfAppOfAppsSkipsValidation(t *testing.T) {
	ctx, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.True(t, ctx.App("nextcloud").Argo.PartOfAppOfApps)
}

func TestContext_EnabledApps_Order(t *testing.T) {
	ctx, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	var names []string
	for _, app := range ctx.EnabledApps() {
		names = append(names, app.Name)
	}

	// cert-manager is base infra, zitadel is the identity provider, and
	// apps outside the fixed order run last; disabled vouch is absent
	assert.Equal(t, []string{"cert-manager", "zitadel", "nextcloud"}, names)
}

func TestContext_SetEnabled(t *testing.T) {
	ctx, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.NoError(t, ctx.SetEnabled("vouch", true))
	assert.True(t, ctx.Enabled("vouch"))

	err = ctx.SetEnabled("nope", true)
	require.Error(t, err)
}

func TestValue_Resolve(t *testing.T) {
	t.Setenv("TEST_CONFIG_VALUE", "from-env")

	tests := []struct {
		name    string
		value   Value
		lookup  ItemFieldLookup
		want    string
		wantErr bool
	}{
		{
			name:  "literal",
			value: Value{Literal: "plain"},
			want:  "plain",
		},
		{
			name:  "env",
			value: Value{From: &ValueFrom{Env: "TEST_CONFIG_VALUE"}},
			want:  "from-env",
		},
		{
			name:  "vault item with lookup",
			value: Value{From: &ValueFrom{BitwardenItem: "item", BitwardenField: "password"}},
			lookup: func(item, field string) (string, error) {
				assert.Equal(t, "item", item)
				assert.Equal(t, "password", field)
				return "s3cret", nil
			},
			want: "s3cret",
		},
		{
			name:    "vault item without lookup",
			value:   Value{From: &ValueFrom{BitwardenItem: "item"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.value.Resolve(tt.lookup)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
