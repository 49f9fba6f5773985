package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/kube"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
	"github.com/smol-labs/homelab-bootstrap/internal/secrets"
)

// Category names one kind of credential dependency an app declares. It is
// part of the secret naming contract, renaming a category breaks templates.
type Category string

const (
	CategoryDatabase      Category = "db"
	CategoryCache         Category = "cache"
	CategoryObjectStorage Category = "s3"
	CategorySMTP          Category = "smtp"
	CategoryAdmin         Category = "admin"
)

const (
	// templaterDeployment re-reads vault items into cluster Secrets; it is
	// restarted after new items land so templates update without waiting for
	// its poll cycle.
	templaterDeployment = "bitwarden-eso-provider"
	templaterNamespace  = "external-secrets"
)

// SecretName is the stable per-category secret item name.
func SecretName(app string, category Category) string {
	return fmt.Sprintf("%s-%s-credentials", app, category)
}

// AppsetKey maps a secret item name to the appset template var carrying its
// vault item id.
func AppsetKey(itemName string) string {
	return strings.ReplaceAll(itemName, "-", "_") + "_bitwarden_id"
}

// Provisioner creates or reads back credential sets through the selected
// secret backend. It never regenerates: when the owning app already exists,
// only the read-back path runs.
type Provisioner struct {
	backend secrets.Backend
	kube    kube.Interface
}

// NewProvisioner builds a Provisioner over the run's secret backend.
func NewProvisioner(backend secrets.Backend, cluster kube.Interface) *Provisioner {
	return &Provisioner{backend: backend, kube: cluster}
}

// Backend exposes the underlying secret backend to recipes.
func (p *Provisioner) Backend() secrets.Backend {
	return p.backend
}

// EnsureLogin provisions one named credential set. When appExists is true the
// item must already be present and is read back untouched; a missing item in
// that state is fatal, recreating it would desync the running deployment.
// Otherwise the item is created exactly as given. The backend must already be
// unlocked, Installer.Run does that once per process.
func (p *Provisioner) EnsureLogin(ctx context.Context, appExists bool, login secrets.Login) (*secrets.Record, error) {
	log := logging.WithField("item", login.Name)

	if appExists {
		record, err := p.backend.GetLogin(ctx, login.Name, login.Namespace)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, errors.NewNotFoundError("credential item missing for installed app", map[string]interface{}{
				"item": login.Name,
			})
		}
		log.Debug("Read back existing credential item")
		return record, nil
	}

	id, err := p.backend.CreateLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	log.Info("Created credential item")

	fields := make(map[string]string, len(login.Fields))
	for _, f := range login.Fields {
		fields[f.Name] = f.Value
	}
	return &secrets.Record{
		ID:       id,
		Name:     login.Name,
		Username: login.Username,
		Password: login.Password,
		Fields:   fields,
	}, nil
}

// EnsureCategory is EnsureLogin with the per-category naming contract
// applied: the item is <app>-<category>-credentials, scoped to the app's
// namespace. A missing password means "generate one", with the same strength
// guarantees regardless of backend.
func (p *Provisioner) EnsureCategory(ctx context.Context, appName, namespace, itemURL string, appExists bool,
	category Category, username, password string, fields []secrets.CustomField) (*secrets.Record, error) {
	if !appExists && password == "" {
		generated, err := secrets.GeneratePassword(secrets.DefaultPasswordLength)
		if err != nil {
			return nil, err
		}
		password = generated
	}
	return p.EnsureLogin(ctx, appExists, secrets.Login{
		Name:      SecretName(appName, category),
		ItemURL:   itemURL,
		Namespace: namespace,
		Username:  username,
		Password:  password,
		Fields:    fields,
	})
}

// TemplateVars maps records to their appset id vars. Without a vault the ids
// mean nothing to templates and the result is empty.
func (p *Provisioner) TemplateVars(records ...*secrets.Record) map[string]string {
	if !p.backend.VaultBacked() {
		return nil
	}
	vars := make(map[string]string, len(records))
	for _, record := range records {
		vars[AppsetKey(record.Name)] = record.ID
	}
	return vars
}

// RestartTemplater bounces the vault-to-cluster templating add-on so freshly
// written items become cluster Secrets now instead of on the next poll.
// Failure is logged and swallowed, the poll cycle will catch up.
func (p *Provisioner) RestartTemplater(ctx context.Context) {
	if !p.backend.VaultBacked() {
		return
	}
	if err := p.kube.RestartDeployment(ctx, templaterDeployment, templaterNamespace); err != nil {
		logging.WithFields(map[string]interface{}{
			"deployment": templaterDeployment,
			"namespace":  templaterNamespace,
		}).WithError(err).Error("Cannot restart templating add-on, it will catch up on its own poll")
	}
}
