package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/kube"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
	"github.com/smol-labs/homelab-bootstrap/internal/run"
)

// BitwardenCLI is the vault strategy, shelling out to the bw CLI. Unlock
// caches a session token that every subsequent call rides on.
type BitwardenCLI struct {
	runner   run.Runner
	kube     kube.Interface
	password string
	session  string
	synced   bool
}

var _ Backend = (*BitwardenCLI)(nil)

// NewBitwardenCLI builds the vault strategy. password may be empty, in which
// case bw prompts on the terminal during Unlock. Plain cluster-secret writes
// still go through the gateway.
func NewBitwardenCLI(runner run.Runner, gateway kube.Interface, password string) *BitwardenCLI {
	return &BitwardenCLI{runner: runner, kube: gateway, password: password}
}

// Unlock opens the vault and caches the session token.
func (b *BitwardenCLI) Unlock(ctx context.Context) error {
	if b.session != "" {
		return nil
	}

	logging.Info("Unlocking the Bitwarden vault")

	var (
		session string
		err     error
	)
	if b.password != "" {
		// the master password goes over stdin, never argv
		session, err = b.runner.RunInput(ctx, b.password, "bw", "unlock", "--raw")
	} else {
		session, err = b.runner.Run(ctx, "bw", "unlock", "--raw")
	}
	if err != nil {
		return errors.NewAuthenticationError("cannot unlock the Bitwarden vault", err)
	}
	if session == "" {
		return errors.NewAuthenticationError("bw unlock returned an empty session token", nil)
	}

	b.session = session
	return nil
}

// Lock closes the vault. Callers treat failures as best-effort cleanup.
func (b *BitwardenCLI) Lock(ctx context.Context) error {
	if b.session == "" {
		return nil
	}

	logging.Info("Locking the Bitwarden vault")
	_, err := b.runner.Run(ctx, "bw", "lock", "--session", b.session)
	b.session = ""
	if err != nil {
		return errors.NewCLIError("bw lock failed", err, nil)
	}
	return nil
}

// bwItem is the payload shape bw create item expects, and a superset of what
// bw list items returns.
type bwItem struct {
	ID             string        `json:"id,omitempty"`
	OrganizationID *string       `json:"organizationId"`
	CollectionIDs  []string      `json:"collectionIds"`
	FolderID       *string       `json:"folderId"`
	Type           int           `json:"type"`
	Name           string        `json:"name"`
	Notes          *string       `json:"notes"`
	Favorite       bool          `json:"favorite"`
	Fields         []CustomField `json:"fields"`
	Login          *bwLogin      `json:"login"`
	Reprompt       int           `json:"reprompt"`
}

type bwLogin struct {
	URIs     []bwURI `json:"uris"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	TOTP     *string `json:"totp"`
}

type bwURI struct {
	Match int    `json:"match"`
	URI   string `json:"uri"`
}

// CreateLogin creates a login item and returns its vault item id.
func (b *BitwardenCLI) CreateLogin(ctx context.Context, login Login) (string, error) {
	if err := b.requireSession(); err != nil {
		return "", err
	}

	item := bwItem{
		Type:   1, // login
		Name:   login.Name,
		Fields: login.Fields,
		Login: &bwLogin{
			Username: login.Username,
			Password: login.Password,
		},
	}
	if item.Fields == nil {
		item.Fields = []CustomField{}
	}
	if login.ItemURL != "" {
		item.Login.URIs = []bwURI{{Match: 0, URI: login.ItemURL}}
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return "", errors.NewInternalError("cannot marshal vault item", err)
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	logging.WithField("item", login.Name).Info("Creating Bitwarden login item")

	out, err := b.runner.Run(ctx, "bw", "create", "item", encoded, "--session", b.session)
	if err != nil {
		return "", errors.NewCLIError("bw create item failed", err, map[string]interface{}{"item": login.Name})
	}

	var created bwItem
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		return "", errors.NewParsingError("cannot parse bw create item output", err, map[string]interface{}{"item": login.Name})
	}
	return created.ID, nil
}

// GetLogin looks an item up by exact name. Absence returns (nil, nil).
func (b *BitwardenCLI) GetLogin(ctx context.Context, name, _ string) (*Record, error) {
	if err := b.requireSession(); err != nil {
		return nil, err
	}
	if err := b.sync(ctx); err != nil {
		return nil, err
	}

	out, err := b.runner.Run(ctx, "bw", "list", "items", "--search", name, "--session", b.session)
	if err != nil {
		return nil, errors.NewCLIError("bw list items failed", err, map[string]interface{}{"item": name})
	}

	var items []bwItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		return nil, errors.NewParsingError("cannot parse bw list items output", err, map[string]interface{}{"item": name})
	}

	for _, item := range items {
		if item.Name != name || item.Login == nil {
			continue
		}
		rec := &Record{
			ID:       item.ID,
			Name:     item.Name,
			Username: item.Login.Username,
			Password: item.Login.Password,
			Fields:   map[string]string{},
		}
		for _, f := range item.Fields {
			rec.Fields[f.Name] = f.Value
		}
		return rec, nil
	}
	return nil, nil
}

// LookupField adapts GetLogin to the config package's value_from resolution.
// "username" and "password" address the primary credential, anything else a
// custom field.
func (b *BitwardenCLI) LookupField(ctx context.Context) func(item, field string) (string, error) {
	return func(item, field string) (string, error) {
		rec, err := b.GetLogin(ctx, item, "")
		if err != nil {
			return "", err
		}
		if rec == nil {
			return "", errors.NewNotFoundError("vault item not found", map[string]interface{}{"item": item})
		}
		switch field {
		case "username":
			return rec.Username, nil
		case "password":
			return rec.Password, nil
		default:
			return rec.Fields[field], nil
		}
	}
}

// CreateSecret writes a plain cluster secret; some consumers need native
// Secrets even when the vault strategy is active.
func (b *BitwardenCLI) CreateSecret(ctx context.Context, name, namespace string, data map[string]string, labels map[string]string) error {
	return b.kube.CreateSecret(ctx, name, namespace, data, labels)
}

// UpdateSecretKey upserts a key in a cluster secret.
func (b *BitwardenCLI) UpdateSecretKey(ctx context.Context, name, namespace, key, value string) error {
	return b.kube.UpdateSecretKey(ctx, name, namespace, key, value)
}

// VaultBacked reports true: item ids feed the appset template vars.
func (b *BitwardenCLI) VaultBacked() bool {
	return true
}

func (b *BitwardenCLI) requireSession() error {
	if b.session == "" {
		return errors.NewAuthenticationError("the Bitwarden vault is locked; call Unlock first", nil)
	}
	return nil
}

// sync pulls vault state once per process so read-backs see items created
// from other machines.
func (b *BitwardenCLI) sync(ctx context.Context) error {
	if b.synced {
		return nil
	}
	if _, err := b.runner.Run(ctx, "bw", "sync", "--session", b.session); err != nil {
		return errors.NewCLIError("bw sync failed", err, nil)
	}
	b.synced = true
	return nil
}
