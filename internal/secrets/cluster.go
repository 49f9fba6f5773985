package secrets

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/smol-labs/homelab-bootstrap/internal/kube"
)

const (
	loginUsernameKey = "username"
	loginPasswordKey = "password"
)

// ClusterBackend is the plain-Secret strategy: login items become opaque
// Secrets in the owning application's namespace. No session state.
type ClusterBackend struct {
	kube kube.Interface
}

var _ Backend = (*ClusterBackend)(nil)

// NewClusterBackend builds the cluster-secret strategy.
func NewClusterBackend(gateway kube.Interface) *ClusterBackend {
	return &ClusterBackend{kube: gateway}
}

// Unlock is a no-op; cluster secrets have no session.
func (c *ClusterBackend) Unlock(context.Context) error { return nil }

// Lock is a no-op.
func (c *ClusterBackend) Lock(context.Context) error { return nil }

// CreateLogin writes the login as an opaque Secret. Custom fields become
// additional string keys. The returned id is the secret name.
func (c *ClusterBackend) CreateLogin(ctx context.Context, login Login) (string, error) {
	data := map[string]string{
		loginUsernameKey: login.Username,
		loginPasswordKey: login.Password,
	}
	for _, f := range login.Fields {
		data[f.Name] = f.Value
	}

	if err := c.kube.CreateSecret(ctx, login.Name, login.Namespace, data, nil); err != nil {
		return "", err
	}
	return login.Name, nil
}

// GetLogin reads a login Secret back. NotFound returns (nil, nil).
func (c *ClusterBackend) GetLogin(ctx context.Context, name, namespace string) (*Record, error) {
	secret, err := c.kube.GetSecret(ctx, name, namespace)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &Record{ID: name, Name: name, Fields: map[string]string{}}
	for key, value := range secret.Data {
		switch key {
		case loginUsernameKey:
			rec.Username = string(value)
		case loginPasswordKey:
			rec.Password = string(value)
		default:
			rec.Fields[key] = string(value)
		}
	}
	// objects written earlier in this run may still carry StringData
	for key, value := range secret.StringData {
		switch key {
		case loginUsernameKey:
			rec.Username = value
		case loginPasswordKey:
			rec.Password = value
		default:
			rec.Fields[key] = value
		}
	}
	return rec, nil
}

// CreateSecret passes through to the cluster gateway.
func (c *ClusterBackend) CreateSecret(ctx context.Context, name, namespace string, data map[string]string, labels map[string]string) error {
	return c.kube.CreateSecret(ctx, name, namespace, data, labels)
}

// UpdateSecretKey passes through to the cluster gateway.
func (c *ClusterBackend) UpdateSecretKey(ctx context.Context, name, namespace, key, value string) error {
	return c.kube.UpdateSecretKey(ctx, name, namespace, key, value)
}

// VaultBacked reports false: there are no vault item ids to template.
func (c *ClusterBackend) VaultBacked() bool {
	return false
}
