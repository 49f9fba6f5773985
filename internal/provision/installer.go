package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smol-labs/homelab-bootstrap/internal/argocd"
	"github.com/smol-labs/homelab-bootstrap/internal/config"
	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/kube"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
	"github.com/smol-labs/homelab-bootstrap/internal/secrets"
	"github.com/smol-labs/homelab-bootstrap/internal/storage"
	"github.com/smol-labs/homelab-bootstrap/internal/zitadel"
)

// DefaultHealthTimeout bounds the wait for an application to reconcile
// before its dependent identifiers are read back.
const DefaultHealthTimeout = 10 * time.Minute

// AppRegistry is the Argo CD surface the installer drives.
type AppRegistry interface {
	Exists(ctx context.Context, name string) (bool, error)
	CreateApplication(ctx context.Context, app *config.App) error
	WaitUntilHealthy(ctx context.Context, name string, timeout time.Duration) error
	SyncApplication(ctx context.Context, name string) error
	UpdateAppsetSecret(ctx context.Context, vars map[string]string) error
}

var _ AppRegistry = (*argocd.Registry)(nil)

// IdentityBridge is the identity provider surface consumed by recipes.
type IdentityBridge interface {
	Configure(ctx context.Context, user zitadel.UserParams) (map[string]string, error)
	ReadBack(ctx context.Context, adminUser string) (map[string]string, error)
	RegisterConsumer(ctx context.Context, name string, redirectURIs, logoutURIs []string) (*zitadel.OIDCApp, error)
	EnsureRole(ctx context.Context, roleKey, displayName string) error
	GrantUserRoles(ctx context.Context, loginName string, roles []string) error
	IssuerURL() string
}

var _ IdentityBridge = (*zitadel.Bridge)(nil)

// ObjectStore is the object storage surface consumed by recipes.
type ObjectStore interface {
	External() bool
	CreateUserCredentials(ctx context.Context, accessKey string) (string, error)
	EnsureBucket(ctx context.Context, name, accessKey string) error
	EnsureGroupPolicies(ctx context.Context) error
}

var _ ObjectStore = (*storage.ObjectStore)(nil)

// BridgeFactory dials the identity provider once it is reachable; the
// service-account key only exists after the provider's first boot.
type BridgeFactory func(ctx context.Context, hostname string) (IdentityBridge, error)

// StoreFactory dials an object storage endpoint with the tenant's root
// credentials, which only exist once the tenant is provisioned.
type StoreFactory func(cfg storage.Config) (ObjectStore, error)

// Installer runs one linear install pass over the enabled apps in dependency
// order. All ordering correctness (project before app, provider before
// consumer, secret write before read-back) is program order; there is no
// concurrency.
type Installer struct {
	cfg      *config.Context
	registry AppRegistry
	prov     *Provisioner
	kube     kube.Interface
	lookup   config.ItemFieldLookup

	newBridge BridgeFactory
	newStore  StoreFactory

	healthTimeout time.Duration

	// set as the pass progresses
	bridge    IdentityBridge
	store     ObjectStore
	adminUser string
}

// NewInstaller wires an Installer. lookup resolves value_from references
// against the vault and may be nil when the vault strategy is off.
func NewInstaller(cfg *config.Context, registry AppRegistry, prov *Provisioner, cluster kube.Interface,
	lookup config.ItemFieldLookup, newBridge BridgeFactory, newStore StoreFactory) *Installer {
	return &Installer{
		cfg:           cfg,
		registry:      registry,
		prov:          prov,
		kube:          cluster,
		lookup:        lookup,
		newBridge:     newBridge,
		newStore:      newStore,
		healthTimeout: DefaultHealthTimeout,
	}
}

// Run executes the install pass. The vault is unlocked once up front and
// locked on the way out no matter how the pass ends. The first fatal error
// stops the run; nothing after it is attempted.
func (i *Installer) Run(ctx context.Context) error {
	backend := i.prov.Backend()

	if err := backend.Unlock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := backend.Lock(ctx); err != nil {
			logging.WithError(err).Warn("Cannot lock secret backend")
		}
	}()

	for _, app := range i.cfg.EnabledApps() {
		if err := i.installApp(ctx, app); err != nil {
			return fmt.Errorf("installing %s: %w", app.Name, err)
		}
	}
	return nil
}

func (i *Installer) installApp(ctx context.Context, app *config.App) error {
	log := logging.WithField("app", app.Name)

	exists, err := i.registry.Exists(ctx, app.Name)
	if err != nil {
		return err
	}
	if exists {
		log.Info("Application already registered, syncing state")
	} else {
		log.Info("Setting up application")
	}

	switch app.Name {
	case "zitadel":
		return i.installZitadel(ctx, app, exists)
	case "minio-tenant":
		return i.installMinioTenant(ctx, app, exists)
	case "vouch":
		return i.installVouch(ctx, app, exists)
	default:
		return i.installGeneric(ctx, app, exists)
	}
}

// installGeneric handles any app without a dedicated recipe: provision its
// declared credential categories, register it, propagate ids.
func (i *Installer) installGeneric(ctx context.Context, app *config.App, exists bool) error {
	var records []*secrets.Record

	if app.Init.Enabled {
		var err error
		records, err = i.provisionCategories(ctx, app, exists)
		if err != nil {
			return err
		}
	}

	if err := i.registry.CreateApplication(ctx, app); err != nil {
		return err
	}

	return i.propagate(ctx, i.prov.TemplateVars(records...))
}

// provisionCategories walks the fixed category set and provisions every
// category the app declares through its init values. <cat>_user or
// <cat>_password present means declared; a missing password is generated,
// except for object storage where creation is delegated to the store.
func (i *Installer) provisionCategories(ctx context.Context, app *config.App, exists bool) ([]*secrets.Record, error) {
	categories := []Category{CategoryDatabase, CategoryCache, CategoryObjectStorage, CategorySMTP, CategoryAdmin}
	hostname := app.SecretKey("hostname")

	var records []*secrets.Record
	for _, category := range categories {
		username, err := app.InitValue(string(category)+"_user", i.lookup)
		if err != nil {
			return nil, err
		}
		password, err := app.InitValue(string(category)+"_password", i.lookup)
		if err != nil {
			return nil, err
		}
		if username == "" && password == "" {
			continue
		}
		if username == "" {
			username = app.Name
		}

		if category == CategoryObjectStorage && !exists && password == "" {
			password, err = i.delegateObjectStorage(ctx, app, username)
			if err != nil {
				return nil, err
			}
		}

		record, err := i.prov.EnsureCategory(ctx, app.Name, app.Argo.Namespace, hostname,
			exists, category, username, password, nil)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// delegateObjectStorage creates the per-app storage user and bucket on the
// bundled store. An external endpoint is never administered here: supplied
// keys are used verbatim, which surfaces as an empty password for the
// category engine to reject upstream.
func (i *Installer) delegateObjectStorage(ctx context.Context, app *config.App, accessKey string) (string, error) {
	if app.SecretKey("s3_endpoint") != "" {
		// externally administered endpoint, nothing to create
		return "", errors.NewValidationError("external object storage declared without s3_password", map[string]interface{}{
			"app": app.Name,
		})
	}
	if i.store == nil {
		return "", errors.NewValidationError("object storage requested before a store is available", map[string]interface{}{
			"app": app.Name,
		})
	}

	secretKey, err := i.store.CreateUserCredentials(ctx, accessKey)
	if err != nil {
		return "", err
	}

	if bucket := app.SecretKey("s3_bucket"); bucket != "" {
		if err := i.store.EnsureBucket(ctx, bucket, accessKey); err != nil {
			return "", err
		}
	}
	return secretKey, nil
}

// installZitadel provisions the identity provider: its own credential items,
// the Argo CD application, then the OIDC wiring once it reports healthy. On
// an already installed instance only identifiers are read back.
func (i *Installer) installZitadel(ctx context.Context, app *config.App, exists bool) error {
	hostname := app.SecretKey("hostname")
	namespace := app.Argo.Namespace

	var records []*secrets.Record
	if app.Init.Enabled {
		var err error
		records, err = i.zitadelCredentials(ctx, app, exists, hostname, namespace)
		if err != nil {
			return err
		}
	}

	if err := i.registry.CreateApplication(ctx, app); err != nil {
		return err
	}

	if !app.Init.Enabled {
		return nil
	}

	adminUser, err := app.InitValue("admin_user", i.lookup)
	if err != nil {
		return err
	}
	i.adminUser = adminUser

	if !exists {
		// dependent identifiers (issued client secret) only exist once the
		// provider is actually serving
		if err := i.registry.WaitUntilHealthy(ctx, app.Name, i.healthTimeout); err != nil {
			return err
		}

		bridge, err := i.newBridge(ctx, hostname)
		if err != nil {
			return err
		}
		i.bridge = bridge

		user, err := i.adminUserParams(app, adminUser)
		if err != nil {
			return err
		}

		vars, err := bridge.Configure(ctx, user)
		if err != nil {
			return err
		}
		mergeVars(vars, i.prov.TemplateVars(records...))

		if err := i.propagate(ctx, vars); err != nil {
			return err
		}

		// pick up the new OIDC settings without waiting for a refresh
		if err := i.registry.SyncApplication(ctx, "argo-cd"); err != nil {
			logging.WithError(err).Warn("Cannot sync argo-cd after OIDC wiring")
		}
		return nil
	}

	// installed instance: recover identifiers, never re-register. Both
	// strategies can read the OIDC credentials back, and later consumers
	// need the bridge either way.
	bridge, err := i.newBridge(ctx, hostname)
	if err != nil {
		return err
	}
	i.bridge = bridge

	vars, err := bridge.ReadBack(ctx, adminUser)
	if err != nil {
		return err
	}
	mergeVars(vars, i.prov.TemplateVars(records...))
	return i.propagate(ctx, vars)
}

func (i *Installer) zitadelCredentials(ctx context.Context, app *config.App, exists bool, hostname, namespace string) ([]*secrets.Record, error) {
	if exists && !i.prov.Backend().VaultBacked() {
		// cluster Secrets already hold everything the deployment needs
		return nil, nil
	}

	corePassword := ""
	if !exists {
		generated, err := secrets.GeneratePassword(secrets.DefaultPasswordLength)
		if err != nil {
			return nil, err
		}
		corePassword = generated
	}

	core, err := i.prov.EnsureLogin(ctx, exists, secrets.Login{
		Name:      "zitadel-core-key",
		ItemURL:   hostname,
		Namespace: namespace,
		Username:  "admin-service-account",
		Password:  corePassword,
	})
	if err != nil {
		return nil, err
	}

	db, err := i.prov.EnsureCategory(ctx, app.Name, namespace, hostname,
		exists, CategoryDatabase, "zitadel", "", nil)
	if err != nil {
		return nil, err
	}

	records := []*secrets.Record{core, db}

	if app.SecretKey("s3_endpoint") != "" {
		s3, err := i.prov.EnsureCategory(ctx, app.Name, namespace, hostname,
			exists, CategoryObjectStorage, "zitadel", "", nil)
		if err != nil {
			return nil, err
		}
		records = append(records, s3)
	}

	return records, nil
}

func (i *Installer) adminUserParams(app *config.App, adminUser string) (zitadel.UserParams, error) {
	email, err := app.InitValue("email", i.lookup)
	if err != nil {
		return zitadel.UserParams{}, err
	}
	firstName, err := app.InitValue("first_name", i.lookup)
	if err != nil {
		return zitadel.UserParams{}, err
	}
	lastName, err := app.InitValue("last_name", i.lookup)
	if err != nil {
		return zitadel.UserParams{}, err
	}
	gender, err := app.InitValue("gender", i.lookup)
	if err != nil {
		return zitadel.UserParams{}, err
	}
	password, err := app.InitValue("password", i.lookup)
	if err != nil {
		return zitadel.UserParams{}, err
	}
	if password == "" {
		password, err = secrets.GeneratePassword(secrets.DefaultPasswordLength)
		if err != nil {
			return zitadel.UserParams{}, err
		}
	}

	return zitadel.UserParams{
		Username:  adminUser,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Gender:    gender,
		Password:  password,
	}, nil
}

// installMinioTenant provisions the bundled object storage tenant: root
// credentials, the tenant env Secret (with OIDC console settings when the
// identity provider is up), the Argo CD application, and finally the group
// policies on the running store.
func (i *Installer) installMinioTenant(ctx context.Context, app *config.App, exists bool) error {
	hostname := app.SecretKey("api_hostname")
	console := app.SecretKey("user_console_hostname")
	namespace := app.Argo.Namespace

	rootUser, err := app.InitValue("root_user", i.lookup)
	if err != nil {
		return err
	}
	if rootUser == "" {
		rootUser = "minio-root"
	}

	var root *secrets.Record
	if app.Init.Enabled && !exists {
		rootPassword, err := secrets.GeneratePassword(secrets.DefaultPasswordLength)
		if err != nil {
			return err
		}

		root, err = i.prov.EnsureLogin(ctx, false, secrets.Login{
			Name:      "minio-tenant-root-credentials",
			ItemURL:   hostname,
			Namespace: namespace,
			Username:  rootUser,
			Password:  rootPassword,
		})
		if err != nil {
			return err
		}

		env, err := i.tenantEnvConfig(ctx, console, rootUser, rootPassword)
		if err != nil {
			return err
		}
		if err := i.kube.CreateSecret(ctx, "default-tenant-env-config", namespace,
			map[string]string{"config.env": env}, nil); err != nil {
			return err
		}
	}

	if err := i.registry.CreateApplication(ctx, app); err != nil {
		return err
	}

	if !app.Init.Enabled {
		return nil
	}

	if !exists {
		if err := i.registry.WaitUntilHealthy(ctx, app.Name, i.healthTimeout); err != nil {
			return err
		}

		store, err := i.newStore(storage.Config{
			Endpoint:  hostname,
			AccessKey: rootUser,
			SecretKey: root.Password,
			Secure:    true,
		})
		if err != nil {
			return err
		}
		i.store = store

		// policy names line up with the identity provider's group claims
		if err := store.EnsureGroupPolicies(ctx); err != nil {
			return err
		}

		return i.propagate(ctx, i.prov.TemplateVars(root))
	}

	// installed tenant: recover the root credentials so later apps can
	// delegate bucket creation, whichever strategy holds them
	root, err = i.prov.EnsureLogin(ctx, true, secrets.Login{
		Name:      "minio-tenant-root-credentials",
		Namespace: namespace,
	})
	if err != nil {
		return err
	}

	store, err := i.newStore(storage.Config{
		Endpoint:  hostname,
		AccessKey: root.Username,
		SecretKey: root.Password,
		Secure:    true,
	})
	if err != nil {
		return err
	}
	i.store = store

	return i.propagate(ctx, i.prov.TemplateVars(root))
}

// tenantEnvConfig renders the config.env the tenant boots from. With the
// identity provider up, the user console authenticates via OIDC.
func (i *Installer) tenantEnvConfig(ctx context.Context, console, rootUser, rootPassword string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "MINIO_ROOT_USER=%s\n", rootUser)
	fmt.Fprintf(&b, "MINIO_ROOT_PASSWORD=%s\n", rootPassword)

	if i.bridge == nil || console == "" {
		return b.String(), nil
	}

	redirectURI := "https://" + console + "/oauth_callback"
	oidcApp, err := i.bridge.RegisterConsumer(ctx, "minio",
		[]string{redirectURI},
		[]string{"https://" + console + "/login"})
	if err != nil {
		return "", err
	}

	for _, role := range []struct{ key, display string }{
		{"minio_users", "MinIO Users"},
		{"minio_admins", "MinIO Administrators"},
	} {
		if err := i.bridge.EnsureRole(ctx, role.key, role.display); err != nil {
			return "", err
		}
	}
	if i.adminUser != "" {
		if err := i.bridge.GrantUserRoles(ctx, i.adminUser, []string{"minio_users", "minio_admins"}); err != nil {
			return "", err
		}
	}

	fmt.Fprintf(&b, "MINIO_IDENTITY_OPENID_CONFIG_URL=%s/.well-known/openid-configuration\n", i.bridge.IssuerURL())
	fmt.Fprintf(&b, "MINIO_IDENTITY_OPENID_CLIENT_ID=%s\n", oidcApp.ClientID)
	fmt.Fprintf(&b, "MINIO_IDENTITY_OPENID_CLIENT_SECRET=%s\n", oidcApp.ClientSecret)
	fmt.Fprintf(&b, "MINIO_IDENTITY_OPENID_DISPLAY_NAME=zitadel\n")
	fmt.Fprintf(&b, "MINIO_IDENTITY_OPENID_SCOPES=\"openid,email,groups\"\n")
	fmt.Fprintf(&b, "MINIO_IDENTITY_OPENID_CLAIM_NAME=groups\n")
	fmt.Fprintf(&b, "MINIO_IDENTITY_OPENID_REDIRECT_URI=%s\n", redirectURI)

	return b.String(), nil
}

// installVouch wires the auth proxy as one more OIDC consumer: a client
// registration plus two config secrets, then the Argo CD application.
func (i *Installer) installVouch(ctx context.Context, app *config.App, exists bool) error {
	hostname := app.SecretKey("hostname")
	namespace := app.Argo.Namespace
	callbackURL := "https://" + hostname + "/auth"

	if app.Init.Enabled && !exists {
		if i.bridge == nil {
			return errors.NewValidationError("vouch requires the identity provider to be enabled and initialized", map[string]interface{}{
				"app": app.Name,
			})
		}

		oidcApp, err := i.bridge.RegisterConsumer(ctx, "vouch",
			[]string{callbackURL},
			[]string{"https://" + hostname})
		if err != nil {
			return err
		}

		issuer := i.bridge.IssuerURL()
		oauth, err := i.prov.EnsureLogin(ctx, false, secrets.Login{
			Name:      "vouch-oauth-config",
			ItemURL:   hostname,
			Namespace: namespace,
			Username:  oidcApp.ClientID,
			Password:  oidcApp.ClientSecret,
			Fields: []secrets.CustomField{
				secrets.NewCustomField("authUrl", issuer+"/oauth/v2/authorize"),
				secrets.NewCustomField("tokenUrl", issuer+"/oauth/v2/token"),
				secrets.NewCustomField("userInfoUrl", issuer+"/oidc/v1/userinfo"),
				secrets.NewCustomField("callbackUrls", callbackURL),
			},
		})
		if err != nil {
			return err
		}

		domains, err := app.InitValue("domains", i.lookup)
		if err != nil {
			return err
		}
		emails, err := app.InitValue("emails", i.lookup)
		if err != nil {
			return err
		}
		cfg, err := i.prov.EnsureLogin(ctx, false, secrets.Login{
			Name:      "vouch-config",
			ItemURL:   hostname,
			Namespace: namespace,
			Username:  "vouch",
			Fields: []secrets.CustomField{
				secrets.NewCustomField("domains", domains),
				secrets.NewCustomField("allowList", emails),
			},
		})
		if err != nil {
			return err
		}

		if err := i.registry.CreateApplication(ctx, app); err != nil {
			return err
		}
		return i.propagate(ctx, i.prov.TemplateVars(oauth, cfg))
	}

	if err := i.registry.CreateApplication(ctx, app); err != nil {
		return err
	}

	if app.Init.Enabled && exists && i.prov.Backend().VaultBacked() {
		oauth, err := i.prov.EnsureLogin(ctx, true, secrets.Login{Name: "vouch-oauth-config", Namespace: namespace})
		if err != nil {
			return err
		}
		cfg, err := i.prov.EnsureLogin(ctx, true, secrets.Login{Name: "vouch-config", Namespace: namespace})
		if err != nil {
			return err
		}
		return i.propagate(ctx, i.prov.TemplateVars(oauth, cfg))
	}

	return nil
}

// propagate merges vars into the appset secret and bounces the templating
// add-on. Empty vars are a no-op.
func (i *Installer) propagate(ctx context.Context, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	if err := i.registry.UpdateAppsetSecret(ctx, vars); err != nil {
		return err
	}
	i.prov.RestartTemplater(ctx)
	return nil
}

func mergeVars(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}
