package secrets

import (
	"context"
)

// CustomField is one named extra value attached to a login item. Order is
// preserved so templated consumers see fields deterministically.
type CustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	// Type 1 is a hidden field in the vault UI.
	Type     int     `json:"type"`
	LinkedID *string `json:"linkedId"`
}

// NewCustomField returns a hidden custom field.
func NewCustomField(name, value string) CustomField {
	return CustomField{Name: name, Value: value, Type: 1}
}

// Login is a logical secret record: a primary credential plus custom fields.
type Login struct {
	// Name is the stable item identifier, e.g. "zitadel-db-credentials".
	Name string
	// ItemURL scopes the item to a hostname in the vault strategy and is
	// ignored by the cluster strategy.
	ItemURL string
	// Namespace scopes the backing Secret in the cluster strategy and is
	// ignored by the vault strategy.
	Namespace string
	Username  string
	Password  string
	Fields    []CustomField
}

// Record is a login read back from the backend.
type Record struct {
	// ID is the vault item id, or the secret name in the cluster strategy.
	ID       string
	Name     string
	Username string
	Password string
	Fields   map[string]string
}

// Backend stores generated credentials. Two strategies exist: the Bitwarden
// vault and plain cluster Secrets. The orchestrator selects one per run.
//
// GetLogin returns (nil, nil) for an absent item: absence signals "needs
// provisioning" and is never an error. Any other failure is fatal to the
// run; a partially provisioned secret set is worse than a hard stop.
type Backend interface {
	// Unlock must be called once per process before any create or read.
	Unlock(ctx context.Context) error
	// Lock is best-effort cleanup, called exactly once at the very end.
	Lock(ctx context.Context) error

	CreateLogin(ctx context.Context, login Login) (id string, err error)
	GetLogin(ctx context.Context, name, namespace string) (*Record, error)

	CreateSecret(ctx context.Context, name, namespace string, data map[string]string, labels map[string]string) error
	UpdateSecretKey(ctx context.Context, name, namespace, key, value string) error

	// VaultBacked reports whether item ids are meaningful to templates
	// (the appset secret only carries *_bitwarden_id keys in that case).
	VaultBacked() bool
}
