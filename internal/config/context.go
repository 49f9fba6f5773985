package config

import (
	"slices"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
)

// installOrder is the fixed dependency order for one install run: base
// networking first, then Argo CD itself, the secrets tooling it templates
// from, the identity provider, and finally everything that consumes OIDC
// clients or vault items. Apps not listed here run last, alphabetically.
var installOrder = []string{
	"metallb",
	"ingress-nginx",
	"cert-manager",
	"argo-cd",
	"external-secrets-operator",
	"bitwarden-eso-provider",
	"zitadel",
	"vouch",
	"minio",
	"minio-tenant",
}

// Context carries the validated config tree through the whole run. All
// mutation goes through SetEnabled; everything else is read-only.
type Context struct {
	cfg *Config
}

// NewContext wraps an already-validated Config, mainly for tests.
func NewContext(cfg *Config) *Context {
	for name, app := range cfg.Apps {
		app.Name = name
	}
	return &Context{cfg: cfg}
}

// ArgoCD returns the Argo CD connection settings.
func (c *Context) ArgoCD() ArgoCDConfig {
	return c.cfg.ArgoCD
}

// VaultEnabled reports whether the Bitwarden vault strategy is active.
func (c *Context) VaultEnabled() bool {
	return c.cfg.Bitwarden.Enabled
}

// VaultPassword returns the configured vault master password value.
func (c *Context) VaultPassword() Value {
	return c.cfg.Bitwarden.Password
}

// App returns the descriptor for name, or nil when not configured.
func (c *Context) App(name string) *App {
	return c.cfg.Apps[name]
}

// Enabled reports whether an app is configured and enabled.
func (c *Context) Enabled(name string) bool {
	app := c.cfg.Apps[name]
	return app != nil && app.Enabled
}

// SetEnabled toggles an app. The orchestrator itself never calls this; it
// exists for the config-editing surface.
func (c *Context) SetEnabled(name string, enabled bool) error {
	app := c.cfg.Apps[name]
	if app == nil {
		return errors.NewNotFoundError("no such app in config", map[string]interface{}{"app": name})
	}
	app.Enabled = enabled
	return nil
}

// EnabledApps returns enabled app descriptors in dependency order.
func (c *Context) EnabledApps() []*App {
	var ordered []*App
	seen := make(map[string]bool, len(installOrder))

	for _, name := range installOrder {
		seen[name] = true
		if app := c.cfg.Apps[name]; app != nil && app.Enabled {
			ordered = append(ordered, app)
		}
	}

	var rest []string
	for name, app := range c.cfg.Apps {
		if !seen[name] && app.Enabled {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	for _, name := range rest {
		ordered = append(ordered, c.cfg.Apps[name])
	}

	return ordered
}
