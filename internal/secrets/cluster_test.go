package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/smol-labs/homelab-bootstrap/internal/kube"
)

func newClusterBackend() *ClusterBackend {
	return NewClusterBackend(kube.NewGateway(fake.NewSimpleClientset()))
}

func TestClusterBackend_CreateAndGetLogin(t *testing.T) {
	ctx := context.Background()
	backend := newClusterBackend()

	id, err := backend.CreateLogin(ctx, Login{
		Name:      "vouch-oauth-config",
		Namespace: "vouch",
		Username:  "client-id",
		Password:  "client-secret",
		Fields: []CustomField{
			NewCustomField("authUrl", "https://sso.example.com/oauth/v2/authorize"),
			NewCustomField("tokenUrl", "https://sso.example.com/oauth/v2/token"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "vouch-oauth-config", id)

	rec, err := backend.GetLogin(ctx, "vouch-oauth-config", "vouch")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "client-id", rec.Username)
	assert.Equal(t, "client-secret", rec.Password)
	assert.Equal(t, "https://sso.example.com/oauth/v2/token", rec.Fields["tokenUrl"])
}

func TestClusterBackend_GetLogin_Absent(t *testing.T) {
	backend := newClusterBackend()

	rec, err := backend.GetLogin(context.Background(), "missing", "default")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestClusterBackend_CreateLogin_DoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	backend := newClusterBackend()

	_, err := backend.CreateLogin(ctx, Login{
		Name: "app-db-credentials", Namespace: "app", Username: "u", Password: "first",
	})
	require.NoError(t, err)

	// creating again must keep the original credential
	_, err = backend.CreateLogin(ctx, Login{
		Name: "app-db-credentials", Namespace: "app", Username: "u", Password: "second",
	})
	require.NoError(t, err)

	rec, err := backend.GetLogin(ctx, "app-db-credentials", "app")
	require.NoError(t, err)
	assert.Equal(t, "first", rec.Password)
}

func TestClusterBackend_SessionNoOps(t *testing.T) {
	ctx := context.Background()
	backend := newClusterBackend()

	require.NoError(t, backend.Unlock(ctx))
	require.NoError(t, backend.Lock(ctx))
	assert.False(t, backend.VaultBacked())
}
