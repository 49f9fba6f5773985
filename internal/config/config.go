package config

import (
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
)

// DefaultDestServer is the in-cluster API server address every Application
// and AppProject destination points at.
const DefaultDestServer = "https://kubernetes.default.svc"

// Load reads and validates a config file, returning an immutable-by-convention
// Context. Validation happens once here so provisioning code never has to
// guard against missing fields.
func Load(path string) (*Context, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewValidationError("cannot read config file", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.NewParsingError("cannot parse config file", err, map[string]interface{}{
			"path": path,
		})
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &Context{cfg: &cfg}, nil
}

func validate(cfg *Config) error {
	if cfg.ArgoCD.Namespace == "" {
		cfg.ArgoCD.Namespace = "argocd"
	}

	for name, app := range cfg.Apps {
		app.Name = name

		if !app.Enabled {
			continue
		}
		if app.Argo.PartOfAppOfApps {
			// deployed by its parent, no standalone Argo params needed
			continue
		}

		if app.Argo.RepoURL == "" || app.Argo.Path == "" || app.Argo.Namespace == "" {
			return errors.NewValidationError("enabled app is missing required argo parameters", map[string]interface{}{
				"app":       name,
				"repo":      app.Argo.RepoURL,
				"path":      app.Argo.Path,
				"namespace": app.Argo.Namespace,
			})
		}
		if app.Argo.Revision == "" {
			app.Argo.Revision = "main"
		}

		// the app namespace must always be a project destination, and the
		// app repo must always be an allowed source
		if !slices.Contains(app.Argo.Project.DestinationNamespaces, app.Argo.Namespace) {
			app.Argo.Project.DestinationNamespaces = append(app.Argo.Project.DestinationNamespaces, app.Argo.Namespace)
		}
		if !slices.Contains(app.Argo.Project.SourceRepos, app.Argo.RepoURL) {
			app.Argo.Project.SourceRepos = append(app.Argo.Project.SourceRepos, app.Argo.RepoURL)
		}
	}

	return nil
}
