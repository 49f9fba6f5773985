package config

// Config is the root of the declarative install tree, read once at startup.
type Config struct {
	ArgoCD    ArgoCDConfig    `yaml:"argocd"`
	Bitwarden BitwardenConfig `yaml:"bitwarden"`
	Apps      map[string]*App `yaml:"apps"`
}

// ArgoCDConfig holds the connection settings for the Argo CD gRPC API and
// the externally-reachable hostname used for OIDC redirect URIs.
type ArgoCDConfig struct {
	ServerAddr string `yaml:"server_addr"`
	AuthToken  Value  `yaml:"auth_token"`
	Hostname   string `yaml:"hostname"`
	Namespace  string `yaml:"namespace"`
	PlainText  bool   `yaml:"plain_text"`
	Insecure   bool   `yaml:"insecure"`
}

// BitwardenConfig selects the vault secret-backend strategy for the run.
// When disabled, generated credentials land in plain cluster Secrets.
type BitwardenConfig struct {
	Enabled  bool  `yaml:"enabled"`
	Password Value `yaml:"password"`
}

// App describes one managed application.
type App struct {
	// Name is the map key, filled in during Load.
	Name    string     `yaml:"-"`
	Enabled bool       `yaml:"enabled"`
	Init    Init       `yaml:"init"`
	Argo    ArgoParams `yaml:"argo"`
}

// Init controls whether the installer provisions credentials for the app
// before handing it to Argo CD, and carries any user-supplied values.
type Init struct {
	Enabled bool             `yaml:"enabled"`
	Values  map[string]Value `yaml:"values"`
}

// ArgoParams is everything needed to create the Argo CD Application and its
// AppProject.
type ArgoParams struct {
	RepoURL         string            `yaml:"repo"`
	Path            string            `yaml:"path"`
	Revision        string            `yaml:"revision"`
	Namespace       string            `yaml:"namespace"`
	Project         ProjectParams     `yaml:"project"`
	SecretKeys      map[string]string `yaml:"secret_keys"`
	PartOfAppOfApps bool              `yaml:"part_of_app_of_apps"`
}

// ProjectParams scopes the AppProject guarding the application.
type ProjectParams struct {
	DestinationNamespaces []string `yaml:"destination_namespaces"`
	SourceRepos           []string `yaml:"source_repos"`
}

// SecretKey returns a template value declared under argo.secret_keys, or "".
func (a *App) SecretKey(key string) string {
	if a.Argo.SecretKeys == nil {
		return ""
	}
	return a.Argo.SecretKeys[key]
}

// InitValue returns a resolved init value by key, or "" when absent.
// Values backed by a vault item are resolved through lookup.
func (a *App) InitValue(key string, lookup ItemFieldLookup) (string, error) {
	if a.Init.Values == nil {
		return "", nil
	}
	v, ok := a.Init.Values[key]
	if !ok {
		return "", nil
	}
	return v.Resolve(lookup)
}
